package campaign

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrNoRecipients = errors.New("campaign has no recipients")

// ListSource expands a named contact list into recipient addresses.
type ListSource interface {
	GetListContents(ctx context.Context, listID int64) ([]string, error)
}

// Builder collects recipients for one campaign from manual entry and
// selected lists. It is owned by the request that creates the campaign.
type Builder struct {
	manual []string
	lists  []int64
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) AddRecipients(addrs ...string) *Builder {
	b.manual = append(b.manual, addrs...)
	return b
}

func (b *Builder) SelectLists(ids ...int64) *Builder {
	b.lists = append(b.lists, ids...)
	return b
}

// Resolve expands the selected lists and returns every distinct normalized
// recipient in first-seen order: manual entries first, then lists in the
// order they were selected.
func (b *Builder) Resolve(ctx context.Context, src ListSource) ([]string, error) {
	out := make([]string, 0, len(b.manual))
	seen := make(map[string]struct{}, len(b.manual))
	add := func(addrs []string) {
		for _, a := range addrs {
			n := NormalizeRecipient(a)
			if n == "" {
				continue
			}
			if _, ok := seen[n]; ok {
				continue
			}
			seen[n] = struct{}{}
			out = append(out, n)
		}
	}

	add(b.manual)

	seenList := make(map[int64]struct{}, len(b.lists))
	for _, id := range b.lists {
		if _, ok := seenList[id]; ok {
			continue
		}
		seenList[id] = struct{}{}
		if src == nil {
			return nil, fmt.Errorf("list %d selected but no list source configured", id)
		}
		contents, err := src.GetListContents(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("expand list %d: %w", id, err)
		}
		add(contents)
	}

	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}

// NormalizeRecipient strips formatting from a phone-style address so that
// "+1 (555) 010-2000" and "15550102000" dedupe to the same recipient.
// Personal chat ids ("...@s.whatsapp.net", "...@c.us") keep only their number.
// Any other gateway address, such as a group id "123-456@g.us", keeps its
// suffix and the dashes of its local part.
func NormalizeRecipient(addr string) string {
	local, domain, ok := strings.Cut(strings.TrimSpace(addr), "@")
	if !ok {
		return keepDigits(local, false)
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	switch domain {
	case "", "s.whatsapp.net", "c.us":
		return keepDigits(local, false)
	}
	local = strings.Trim(keepDigits(local, true), "-")
	if local == "" {
		return ""
	}
	return local + "@" + domain
}

func keepDigits(s string, dashes bool) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if (r >= '0' && r <= '9') || (dashes && r == '-') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
