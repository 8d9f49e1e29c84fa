package wal

import "hash/crc32"

var crcTable = crc32.MakeTable(crc32.Castagnoli)

func crc32Checksum(b []byte) uint32 {
	return crc32.Checksum(b, crcTable)
}
