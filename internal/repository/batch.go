package repository

import "fmt"

// ApplyBatch replays ops against tx in order.
func ApplyBatch(tx Transaction, ops []WriteOp) error {
	for i, op := range ops {
		var err error
		switch op.Kind {
		case WriteSet:
			err = tx.Set(op.Collection, op.ID, op.Fields, SetOptions{Merge: op.Merge})
		case WriteUpdate:
			err = tx.Update(op.Collection, op.ID, op.Fields)
		case WriteDelete:
			err = tx.Delete(op.Collection, op.ID)
		default:
			err = fmt.Errorf("unknown write kind %d", op.Kind)
		}
		if err != nil {
			return fmt.Errorf("batch op %d: %w", i, err)
		}
	}
	return nil
}
