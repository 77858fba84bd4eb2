package clearing

// CodeForSequence formats a clearing sequence number as a letter code:
// 1 is "A", 26 is "Z", 27 is "AA", 702 is "ZZ", 703 is "AAA".
// Non-positive values yield an empty string.
func CodeForSequence(n int64) string {
	var buf []byte
	for n > 0 {
		n--
		buf = append(buf, byte('A'+n%26))
		n /= 26
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return string(buf)
}
