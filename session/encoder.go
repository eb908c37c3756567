package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

// CurrentSchemaVersion is written by Encode. Decode also accepts v1, which
// predates the CreatedAt field.
const CurrentSchemaVersion uint8 = 2

const sessionFormatVersionV1 uint8 = 1

var errInvalidVersion = errors.New("invalid session version")

// Encode serializes s into the current binary layout.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(CurrentSchemaVersion)

	if len(s.SubjectID) > 255 {
		return nil, errors.New("subjectID too long")
	}
	buf.WriteByte(byte(len(s.SubjectID)))
	buf.WriteString(s.SubjectID)

	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a stored session blob. The session ID is not part of the
// blob; callers fill it from the key.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion && version != sessionFormatVersionV1 {
		return nil, errInvalidVersion
	}

	s := &Session{SchemaVersion: version}

	subjectLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	subject := make([]byte, subjectLen)
	if _, err := io.ReadFull(reader, subject); err != nil {
		return nil, err
	}
	s.SubjectID = string(subject)

	if version == CurrentSchemaVersion {
		if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
			return nil, err
		}
	}
	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = s.ExpiresAt
	}

	return s, nil
}
