package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Mutter0815/MassDispatch/internal/campaign"
)

type listRow struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Contacts  string `db:"contacts"`
	CreatedAt int64  `db:"created_at"`
}

// SaveList creates the named list or replaces its contacts.
func (s *Store) SaveList(ctx context.Context, name string, contacts []string) (int64, error) {
	body, err := json.Marshal(dedupe(contacts))
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.DB.QueryRowxContext(ctx, s.DB.Rebind(`
		INSERT INTO lists (name, contacts, created_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET contacts = excluded.contacts
		RETURNING id`), name, string(body), s.nowMillis(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save list %q: %w", name, err)
	}
	return id, nil
}

func (s *Store) GetListContents(ctx context.Context, id int64) ([]string, error) {
	var body string
	err := s.DB.GetContext(ctx, &body, s.DB.Rebind(`SELECT contacts FROM lists WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var contacts []string
	if err := json.Unmarshal([]byte(body), &contacts); err != nil {
		return nil, fmt.Errorf("list %d contacts: %w", id, err)
	}
	return contacts, nil
}

func (s *Store) ListLists(ctx context.Context) ([]campaign.List, error) {
	var rows []listRow
	if err := s.DB.SelectContext(ctx, &rows, `SELECT id, name, contacts, created_at FROM lists ORDER BY created_at DESC, id DESC`); err != nil {
		return nil, err
	}
	out := make([]campaign.List, 0, len(rows))
	for _, r := range rows {
		var contacts []string
		// a corrupt row still shows up, just with zero contacts
		_ = json.Unmarshal([]byte(r.Contacts), &contacts)
		out = append(out, campaign.List{
			ID:        r.ID,
			Name:      r.Name,
			Count:     len(contacts),
			CreatedAt: time.UnixMilli(r.CreatedAt).UTC(),
		})
	}
	return out, nil
}

func (s *Store) DeleteList(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, s.DB.Rebind(`DELETE FROM lists WHERE id = ?`), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
