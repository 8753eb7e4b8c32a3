// Package codec converts between device messages and link bytes.
//
// Stream links carry frames of a two byte magic (0x94 0xC3), a big endian
// u16 length and up to 512 bytes of body. The body is protobuf wire format
// without a schema: the field numbers are fixed here.
package codec
