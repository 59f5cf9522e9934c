package conversation

// commit assigns next to *field and then runs persist. If persist fails the
// previous value is put back and the error is returned, so the in-memory
// value never outlives a failed durable write.
func commit[T any](field *T, next T, persist func() error) error {
	prev := *field
	*field = next
	if err := persist(); err != nil {
		*field = prev
		return err
	}
	return nil
}
