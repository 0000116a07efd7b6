package promptbuild

// insertAt returns a new slice with msg placed at index. The index is clamped
// to [0, len(messages)].
func insertAt(messages []Message, index int, msg Message) []Message {
	index = clampIndex(index, len(messages))
	out := make([]Message, 0, len(messages)+1)
	out = append(out, messages[:index]...)
	out = append(out, msg)
	return append(out, messages[index:]...)
}

// insertFromEnd places msg depth messages before the end.
func insertFromEnd(messages []Message, depth int, msg Message) []Message {
	return insertAt(messages, len(messages)-depth, msg)
}

func clampIndex(index, n int) int {
	if index < 0 {
		return 0
	}
	if index > n {
		return n
	}
	return index
}
