package stdlib

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

func utf8Char(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("utf8.char", vs)
	var b strings.Builder
	for range vs {
		cp, err := a.integer()
		if err != nil {
			return nil, err
		}
		b.WriteRune(rune(cp))
	}
	return []value.Value{b.String()}, nil
}

func utf8Len(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("utf8.len", vs)
	s, err := a.string()
	if err != nil {
		return nil, err
	}
	n := int64(0)
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size <= 1 {
			return []value.Value{nil, int64(i + 1)}, nil
		}
		i += size
		n++
	}
	return []value.Value{n}, nil
}

func utf8Codepoint(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("utf8.codepoint", vs)
	s, err := a.string()
	if err != nil {
		return nil, err
	}
	i, err := a.integer(1)
	if err != nil {
		return nil, err
	}
	j, err := a.integer(i)
	if err != nil {
		return nil, err
	}
	if i < 1 || j > int64(len(s)) {
		return nil, errs.Runtime("utf8.codepoint: byte position out of range")
	}

	var out []value.Value
	for pos := int(i - 1); pos < int(j); {
		r, size := utf8.DecodeRuneInString(s[pos:])
		if r == utf8.RuneError && size <= 1 {
			return nil, errs.Runtime("utf8.codepoint: invalid UTF-8 code")
		}
		out = append(out, int64(r))
		pos += size
	}
	return out, nil
}

func utf8Nfcnormalize(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("utf8.nfcnormalize", vs)
	s, err := a.string()
	if err != nil {
		return nil, err
	}
	return []value.Value{norm.NFC.String(s)}, nil
}

func utf8Nfdnormalize(_ any, vs []value.Value) ([]value.Value, error) {
	a := newArgs("utf8.nfdnormalize", vs)
	s, err := a.string()
	if err != nil {
		return nil, err
	}
	return []value.Value{norm.NFD.String(s)}, nil
}

func installUtf8(env *value.Table) {
	lib := value.NewTable()
	lib.ForceSet("char", native("char", utf8Char))
	lib.ForceSet("len", native("len", utf8Len))
	lib.ForceSet("codepoint", native("codepoint", utf8Codepoint))
	lib.ForceSet("nfcnormalize", native("nfcnormalize", utf8Nfcnormalize))
	lib.ForceSet("nfdnormalize", native("nfdnormalize", utf8Nfdnormalize))
	lib.ForceSet("charpattern", "[\x00-\x7F\xC2-\xFD][\x80-\xBF]*")
	env.ForceSet("utf8", lib)
}
