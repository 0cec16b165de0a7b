package core

// Percentage returns how much of the session has arrived, as an integer in
// [0, 100], rounded down. It is 100 only for a complete session; a pending
// session never reports more than 99.
func Percentage(s *UploadSession) int {
	if s.Complete(false) {
		return 100
	}

	var p int64
	switch {
	case s.TotalSize > 0:
		p = s.BytesReceived * 100 / s.TotalSize
	case s.TotalParts > 0:
		p = int64(len(s.Parts)) * 100 / int64(s.TotalParts)
	default:
		return 0
	}

	return int(min(max(p, 0), 99))
}
