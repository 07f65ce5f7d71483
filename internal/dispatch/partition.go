package dispatch

// Partition splits recipients into ordered batches of at most batchSize.
//
// With no bulk recipients but a direct recipient, a single empty batch is
// returned so the direct message still goes out.
func Partition(recipients []string, batchSize int, directTo string) ([]Batch, error) {
	if batchSize < 1 {
		return nil, ErrInvalidBatchSize
	}

	if len(recipients) == 0 {
		if directTo == "" {
			return nil, ErrNoRecipients
		}
		return []Batch{{Index: 1, Total: 1, Addresses: []string{}}}, nil
	}

	total := (len(recipients) + batchSize - 1) / batchSize
	batches := make([]Batch, 0, total)
	for start := 0; start < len(recipients); start += batchSize {
		end := min(start+batchSize, len(recipients))
		addrs := make([]string, end-start)
		copy(addrs, recipients[start:end])
		batches = append(batches, Batch{
			Index:     len(batches) + 1,
			Total:     total,
			Addresses: addrs,
		})
	}
	return batches, nil
}
