// Package audit appends to a complaint's action trail. Rows are only ever
// inserted, always inside the transaction that performs the mutation they
// record, so the trail can neither lose entries under concurrent writers
// nor describe a state that was rolled back.
package audit

import (
	"context"
	"database/sql"
	"time"
)

type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, complaintID, action, actor string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO complaint_actions(complaint_id,action,ts,actor) VALUES (?,?,?,?)`,
		complaintID, action, ts, actor)
	return err
}
