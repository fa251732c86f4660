package serialize

import (
	"encoding/binary"

	"github.com/rockercheng/uvm/errs"
	"github.com/rockercheng/uvm/value"
)

// Decode parses one encoded value from data, rejecting malformed or
// truncated input with a typed error. It does not tolerate trailing bytes:
// callers that expect to read a stream of values should use DecodePrefix.
func Decode(data []byte) (value.Value, error) {
	v, rest, err := DecodePrefix(data)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, errs.Protocol("trailing bytes after decoded value")
	}
	return v, nil
}

// DecodePrefix parses one encoded value from the front of data and returns
// whatever bytes remain after it, for callers that concatenate several
// encoded values (e.g. an argument list).
func DecodePrefix(data []byte) (value.Value, []byte, error) {
	d := &decoder{data: data}
	v, err := d.get()
	if err != nil {
		return nil, nil, err
	}
	return v, d.data[d.pos:], nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) need(n int) error {
	if len(d.data)-d.pos < n {
		return errs.Protocol("truncated value at offset %d (need %d more bytes)", d.pos, n)
	}
	return nil
}

func (d *decoder) rByte() (byte, error) {
	if err := d.need(1); err != nil {
		return 0, err
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) rVarint() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := d.rByte()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, errs.Protocol("varint too long at offset %d", d.pos)
		}
	}
}

func (d *decoder) rUint64() (uint64, error) {
	if err := d.need(8); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint64(d.data[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *decoder) rBytes(n uint32) ([]byte, error) {
	if err := d.need(int(n)); err != nil {
		return nil, err
	}
	b := d.data[d.pos : d.pos+int(n)]
	d.pos += int(n)
	return b, nil
}

func (d *decoder) get() (value.Value, error) {
	tag, err := d.rByte()
	if err != nil {
		return nil, err
	}
	switch tag {
	case tagNull:
		return nil, nil
	case tagFalse:
		return false, nil
	case tagTrue:
		return true, nil
	case tagIntSmall:
		zz, err := d.rVarint()
		if err != nil {
			return nil, err
		}
		return int64(unzigzag32(zz)), nil
	case tagIntExt:
		v, err := d.rUint64()
		if err != nil {
			return nil, err
		}
		return int64(v), nil
	case tagNumber:
		v, err := d.rUint64()
		if err != nil {
			return nil, err
		}
		return value.NewNumber(int64(v)), nil
	case tagString:
		s, err := d.rString()
		if err != nil {
			return nil, err
		}
		return s, nil
	case tagBytes:
		n, err := d.rVarint()
		if err != nil {
			return nil, err
		}
		b, err := d.rBytes(n)
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), b...), nil
	case tagArray:
		return d.getArray()
	case tagMap:
		return d.getMap()
	default:
		return nil, errs.Protocol("unknown value tag %d at offset %d", tag, d.pos-1)
	}
}

func (d *decoder) rString() (string, error) {
	n, err := d.rVarint()
	if err != nil {
		return "", err
	}
	b, err := d.rBytes(n)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *decoder) getArray() (value.Value, error) {
	n, err := d.rVarint()
	if err != nil {
		return nil, err
	}
	t := value.NewTable()
	for i := uint32(0); i < n; i++ {
		elt, err := d.get()
		if err != nil {
			return nil, err
		}
		t.ForceSet(int64(i+1), elt)
	}
	return t, nil
}

func (d *decoder) getMap() (value.Value, error) {
	n, err := d.rVarint()
	if err != nil {
		return nil, err
	}
	t := value.NewTable()
	for i := uint32(0); i < n; i++ {
		keyTag, err := d.rByte()
		if err != nil {
			return nil, err
		}
		if keyTag != tagString {
			return nil, errs.Protocol("map key at offset %d is not a string", d.pos-1)
		}
		k, err := d.rString()
		if err != nil {
			return nil, err
		}
		v, err := d.get()
		if err != nil {
			return nil, err
		}
		t.ForceSet(k, v)
	}
	return t, nil
}
