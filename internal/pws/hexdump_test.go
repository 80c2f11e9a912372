package pws

import "testing"

func TestPrintableHex(t *testing.T) {
	in := "1234\x0056789\x01\x02abcd\nefg\nhi\nhello\n\n" +
		"hello\n\n\nshouldn't \\ backslash\xe2\x9c\x94 done\n"
	want := "'1234' 00 '56789' 01 02 'abcd' 0A 65 66 67 0A 68 69 0A 'hello' 0A 0A " +
		"'hello' 0A 0A 0A 'shouldn' 27 't \\ backslash' E2 9C 94 ' done' 0A"
	if got := PrintableHex([]byte(in)); got != want {
		t.Errorf("PrintableHex mismatch:\n got: %s\nwant: %s", got, want)
	}
}
