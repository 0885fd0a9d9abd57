// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package serialapi

// Checksum computes the SerialAPI frame checksum: 0xFF XORed with every byte
// of data. Data is the length byte, the type byte and the payload, in order.
func Checksum(data []byte) byte {
	sum := byte(0xFF)
	for _, b := range data {
		sum ^= b
	}
	return sum
}

// VerifyChecksum checks a received frame body. body holds the bytes that
// followed the length byte (type, payload and trailing checksum). The body
// checksum is re-XORed with the length byte and must come out as zero.
func VerifyChecksum(length byte, body []byte) bool {
	return Checksum(body)^length == 0
}
