package entry

import "hash/crc32"

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func checksum(data []byte) uint32 {
	return crc32.Checksum(data, castagnoli)
}

func checksumValid(data []byte, sum uint32) bool {
	return checksum(data) == sum
}
