package util

// windowsEpochOffsetMs is the number of 100ns ticks between the Windows
// FILETIME epoch (1601-01-01) and the Unix epoch (1970-01-01).
const windowsEpochOffsetTicks = 116_444_736_000_000_000

// ToWindowsTime converts a Unix timestamp in milliseconds to a Windows
// FILETIME-style tick count (100ns ticks since 1601-01-01).
func ToWindowsTime(unixMs int64) int64 {
	return unixMs*10_000 + windowsEpochOffsetTicks
}

// FromWindowsTime converts a Windows FILETIME tick count back to a Unix
// timestamp in milliseconds.
func FromWindowsTime(ticks int64) int64 {
	return (ticks - windowsEpochOffsetTicks) / 10_000
}
