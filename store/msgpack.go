package store

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
)

// encodeDocument serializes a document for the byte-oriented backends.
// Map keys are sorted so equal documents encode identically.
func encodeDocument(doc map[string]any) ([]byte, error) {
	norm, err := normalize(doc)
	if err != nil {
		return nil, err
	}
	if norm == nil {
		norm = map[string]any{}
	}
	var buf bytes.Buffer
	enc := msgpack.GetEncoder()
	enc.Reset(&buf)
	enc.SetSortMapKeys(true)
	err = enc.Encode(norm)
	msgpack.PutEncoder(enc)
	if err != nil {
		return nil, errors.Wrap(err, "encode document using MsgPack")
	}
	return buf.Bytes(), nil
}

func decodeDocument(raw []byte) (map[string]any, error) {
	dec := msgpack.GetDecoder()
	dec.Reset(bytes.NewReader(raw))
	dec.UseLooseInterfaceDecoding(true)
	var doc map[string]any
	err := dec.Decode(&doc)
	msgpack.PutDecoder(dec)
	if err != nil {
		return nil, errors.Wrap(err, "decode MsgPack document")
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}
