package mi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine_ResultDone(t *testing.T) {
	rec, ok, err := ParseLine("1000^done")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindResult, rec.Kind)
	assert.Equal(t, 1000, rec.Token)
	assert.Equal(t, "done", rec.Class)
	assert.Empty(t, rec.Fields)
}

func TestParseLine_ResultError(t *testing.T) {
	rec, ok, err := ParseLine(`2001^error,msg="No symbol \"x\" in current context."`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindResult, rec.Kind)
	assert.Equal(t, 2001, rec.Token)
	assert.Equal(t, "error", rec.Class)
	assert.Equal(t, `No symbol "x" in current context.`, rec.Str("msg"))
}

func TestParseLine_ExecStopped(t *testing.T) {
	line := `*stopped,reason="breakpoint-hit",bkptno="1",thread-id="1",` +
		`frame={addr="0x4005d6",func="main",file="t.c",line="10"}`
	rec, ok, err := ParseLine(line)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindExec, rec.Kind)
	assert.Equal(t, NoToken, rec.Token)
	assert.Equal(t, "stopped", rec.Class)
	assert.Equal(t, "breakpoint-hit", rec.Str("reason"))
	assert.Equal(t, "1", rec.Str("thread-id"))

	frame, found := rec.Tuple("frame")
	require.True(t, found)
	assert.Equal(t, "main", frame.Str("func"))
	assert.Equal(t, "t.c", frame.Str("file"))
	line10, ok := frame.Int("line")
	require.True(t, ok)
	assert.Equal(t, 10, line10)
}

func TestParseLine_AsyncKinds(t *testing.T) {
	tests := []struct {
		line  string
		kind  Kind
		class string
	}{
		{`*running,thread-id="all"`, KindExec, "running"},
		{`+download,section=".text"`, KindStatus, "download"},
		{`=breakpoint-modified,bkpt={number="2"}`, KindNotify, "breakpoint-modified"},
		{`^done`, KindResult, "done"},
	}
	for _, tt := range tests {
		rec, ok, err := ParseLine(tt.line)
		require.NoError(t, err, tt.line)
		require.True(t, ok, tt.line)
		assert.Equal(t, tt.kind, rec.Kind, tt.line)
		assert.Equal(t, tt.class, rec.Class, tt.line)
	}
}

func TestParseLine_StreamRecords(t *testing.T) {
	tests := []struct {
		line string
		kind Kind
		text string
	}{
		{`~"Reading symbols from /bin/cat...\n"`, KindConsole, "Reading symbols from /bin/cat...\n"},
		{`@"hello from target"`, KindTarget, "hello from target"},
		{`&"warning: something\n"`, KindLog, "warning: something\n"},
	}
	for _, tt := range tests {
		rec, ok, err := ParseLine(tt.line)
		require.NoError(t, err, tt.line)
		require.True(t, ok, tt.line)
		assert.Equal(t, tt.kind, rec.Kind, tt.line)
		assert.Equal(t, tt.text, rec.Text, tt.line)
		assert.True(t, rec.IsStream())
		assert.Empty(t, rec.Fields)
	}
}

func TestParseLine_DroppedLines(t *testing.T) {
	for _, line := range []string{"", "   ", "(gdb)", "(gdb) ", "garbage output", "12345"} {
		_, ok, err := ParseLine(line)
		assert.False(t, ok, "line %q should carry no record", line)
		assert.NoError(t, err)
	}
}

func TestIsPrompt(t *testing.T) {
	assert.True(t, IsPrompt("(gdb)"))
	assert.True(t, IsPrompt("(gdb) \r"))
	assert.False(t, IsPrompt(`~"(gdb)"`))
}

func TestParseLine_ListNormalization(t *testing.T) {
	// Named pairs inside a list are wrapped into single-field tuples.
	rec, ok, err := ParseLine(`^done,stack=[frame={level="0",func="main"},frame={level="1",func="start"}]`)
	require.NoError(t, err)
	require.True(t, ok)

	stack, found := rec.List("stack")
	require.True(t, found)
	require.Len(t, stack.Items, 2)

	for i, want := range []string{"main", "start"} {
		wrapper, isTuple := AsTuple(stack.Items[i])
		require.True(t, isTuple, "item %d must be a tuple, never a bare pair", i)
		require.Len(t, wrapper.Fields, 1)
		assert.Equal(t, "frame", wrapper.Fields[0].Name)
		frame, isTuple := AsTuple(wrapper.Fields[0].Value)
		require.True(t, isTuple)
		assert.Equal(t, want, frame.Str("func"))
	}
}

func TestParseLine_ListBareValues(t *testing.T) {
	rec, ok, err := ParseLine(`^done,ids=["1","2","3"]`)
	require.NoError(t, err)
	require.True(t, ok)

	ids, found := rec.List("ids")
	require.True(t, found)
	require.Len(t, ids.Items, 3)
	first, isString := AsString(ids.Items[0])
	require.True(t, isString)
	assert.Equal(t, "1", first)
}

func TestParseLine_BareScalarFallback(t *testing.T) {
	rec, ok, err := ParseLine(`^done,value=0x4005d6,next="x"`)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "0x4005d6", rec.Str("value"))
	assert.Equal(t, "x", rec.Str("next"))
}

func TestParseLine_NestedStructures(t *testing.T) {
	rec, ok, err := ParseLine(`^done,bkpt={number="1",locations=[{addr="0x1"},{addr="0x2"}],line="10"}`)
	require.NoError(t, err)
	require.True(t, ok)

	bkpt, found := rec.Tuple("bkpt")
	require.True(t, found)
	assert.Equal(t, "1", bkpt.Str("number"))
	assert.Equal(t, "10", bkpt.Str("line"))

	locs, found := bkpt.Get("locations")
	require.True(t, found)
	list, isList := AsList(locs)
	require.True(t, isList)
	require.Len(t, list.Items, 2)
}

func TestParseLine_StuckParseReturnsPartial(t *testing.T) {
	// "=?" cannot start a field; the parser must stop instead of looping.
	rec, ok, err := ParseLine(`^done,good="yes",=?broken`)
	require.True(t, ok)
	require.Error(t, err)
	assert.Equal(t, "yes", rec.Str("good"))
}

func TestParseLine_UnterminatedString(t *testing.T) {
	rec, ok, err := ParseLine(`^done,msg="never closed`)
	require.True(t, ok)
	require.NoError(t, err)
	assert.Equal(t, "never closed", rec.Str("msg"))
}

func TestEscapeRoundTrip(t *testing.T) {
	inputs := []string{
		"",
		"plain",
		"line one\nline two",
		"tab\there",
		"cr\rlf\n",
		`quote " backslash \`,
		"\\n is not a newline once escaped",
		"mix \t\r\n\"\\ all",
	}
	for _, in := range inputs {
		assert.Equal(t, in, Unescape(Escape(in)), "round trip of %q", in)
	}
}

func TestUnescapeSequences(t *testing.T) {
	assert.Equal(t, "a\nb", Unescape(`a\nb`))
	assert.Equal(t, "a\tb", Unescape(`a\tb`))
	assert.Equal(t, `a"b`, Unescape(`a\"b`))
	assert.Equal(t, `a\b`, Unescape(`a\\b`))
}
