package chat

import "hash/fnv"

// fingerprint is an order-sensitive, non-cryptographic hash of a message
// body. It is only compared between messages that already share an id.
func fingerprint(content string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(content))
	return h.Sum64()
}
