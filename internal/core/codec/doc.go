// Package codec reads and writes entity records in the versioned
// checkpoint format.
//
// Every checkpoint item is a self-contained stream:
//
//	HEADER   signature "RX" (2 bytes) + version as 4 big-endian uint16
//	RECORD*  kind (1) + id (uvarint len + UTF-8) + expr (uvarint len + bytes)
//	         + state (uvarint len + bytes)
//	FOOTER   0xEF 0xBE 0xAD 0xDE
//
// Version 1.0.0.0 stores expressions in the raw binary form of package
// expr. Version 1.1.0.0 prefixes each expression with a mode byte and may
// store a template reference plus the hoisted constants instead.
package codec
