package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// CurrentSchemaVersion is the encoding written by Encode.
const CurrentSchemaVersion = infoFormatVersionV2

const (
	infoFormatVersionV2 = 2
	infoFormatVersionV1 = 1

	flagLoggedIn = 1 << 0
	flagIsAdmin  = 1 << 1

	maxCookies = 32
)

// Encode serializes info in the current schema.
//
// Layout v2: version | flags | userID(int64) | updatedAt(int64) |
// username(len8) | cookieCount(8) | {name(len8) value(len16) path(len8)}*.
// v1 ended after updatedAt.
func Encode(info *Info) ([]byte, error) {
	if info == nil {
		return nil, errors.New("nil session info")
	}
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	var flags byte
	if info.LoggedIn {
		flags |= flagLoggedIn
	}
	if info.IsAdmin {
		flags |= flagIsAdmin
	}
	buf.WriteByte(flags)

	if err := binary.Write(&buf, binary.BigEndian, info.UserID); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, info.UpdatedAt); err != nil {
		return nil, err
	}

	if err := writeShort(&buf, info.Username, "username"); err != nil {
		return nil, err
	}

	if len(info.Cookies) > maxCookies {
		return nil, errors.New("too many cookies")
	}
	buf.WriteByte(byte(len(info.Cookies)))
	for _, c := range info.Cookies {
		if err := writeShort(&buf, c.Name, "cookie name"); err != nil {
			return nil, err
		}
		if len(c.Value) > 0xFFFF {
			return nil, errors.New("cookie value too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(c.Value))); err != nil {
			return nil, err
		}
		buf.WriteString(c.Value)
		if err := writeShort(&buf, c.Path, "cookie path"); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// Decode parses any supported schema version. Older versions are returned
// with their original SchemaVersion so the caller can rewrite them.
func Decode(data []byte) (*Info, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != infoFormatVersionV2 && version != infoFormatVersionV1 {
		return nil, fmt.Errorf("unsupported session schema version %d", version)
	}

	info := &Info{SchemaVersion: version}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	info.LoggedIn = flags&flagLoggedIn != 0
	info.IsAdmin = flags&flagIsAdmin != 0

	if err := binary.Read(reader, binary.BigEndian, &info.UserID); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &info.UpdatedAt); err != nil {
		return nil, err
	}

	if version == infoFormatVersionV1 {
		return info, nil
	}

	if info.Username, err = readShort(reader); err != nil {
		return nil, err
	}

	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if count > maxCookies {
		return nil, errors.New("too many cookies")
	}
	info.Cookies = make([]Cookie, 0, count)
	for i := 0; i < int(count); i++ {
		var c Cookie
		if c.Name, err = readShort(reader); err != nil {
			return nil, err
		}
		var valueLen uint16
		if err := binary.Read(reader, binary.BigEndian, &valueLen); err != nil {
			return nil, err
		}
		value := make([]byte, valueLen)
		if _, err := io.ReadFull(reader, value); err != nil {
			return nil, err
		}
		c.Value = string(value)
		if c.Path, err = readShort(reader); err != nil {
			return nil, err
		}
		info.Cookies = append(info.Cookies, c)
	}

	return info, nil
}

func writeShort(buf *bytes.Buffer, s, what string) error {
	if len(s) > 255 {
		return errors.New(what + " too long")
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

func readShort(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
