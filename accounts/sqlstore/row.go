package sqlstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jrsteele09/go-social-connect/accounts"
	"github.com/jrsteele09/go-social-connect/internal/sealbox"
)

type accountRow struct {
	ID                string        `db:"id"`
	CustomerID        string        `db:"customer_id"`
	Platform          string        `db:"platform"`
	ExternalAccountID string        `db:"external_account_id"`
	DisplayName       string        `db:"display_name"`
	ProfileImageURL   string        `db:"profile_image_url"`
	TokenValue        string        `db:"token_value"`
	TokenKind         string        `db:"token_kind"`
	TokenIssuedAt     int64         `db:"token_issued_at"`
	TokenExpiresAt    sql.NullInt64 `db:"token_expires_at"`
	RefreshToken      string        `db:"refresh_token"`
	SubResources      string        `db:"sub_resources"`
	Status            string        `db:"status"`
	Degraded          bool          `db:"degraded"`
	LastError         string        `db:"last_error"`
	ConnectedAt       int64         `db:"connected_at"`
	UpdatedAt         int64         `db:"updated_at"`
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

// encodeRow seals every token value. Sub-resources carry their own tokens, so the
// whole list is sealed as one JSON document.
func encodeRow(box *sealbox.Box, a *accounts.ConnectedAccount) (*accountRow, error) {
	value, err := box.Seal(a.Token.Value)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore encodeRow] token: %w", err)
	}
	refresh, err := box.Seal(a.Token.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore encodeRow] refresh token: %w", err)
	}
	subs := ""
	if len(a.SubResources) > 0 {
		raw, err := json.Marshal(a.SubResources)
		if err != nil {
			return nil, fmt.Errorf("[sqlstore encodeRow] sub resources: %w", err)
		}
		if subs, err = box.Seal(string(raw)); err != nil {
			return nil, fmt.Errorf("[sqlstore encodeRow] sub resources: %w", err)
		}
	}

	row := &accountRow{
		ID:                a.ID,
		CustomerID:        a.CustomerID,
		Platform:          string(a.Platform),
		ExternalAccountID: a.ExternalAccountID,
		DisplayName:       a.DisplayName,
		ProfileImageURL:   a.ProfileImageURL,
		TokenValue:        value,
		TokenKind:         string(a.Token.Kind),
		TokenIssuedAt:     toMillis(a.Token.IssuedAt),
		RefreshToken:      refresh,
		SubResources:      subs,
		Status:            string(a.Status),
		Degraded:          a.Degraded,
		LastError:         a.LastError,
		ConnectedAt:       toMillis(a.ConnectedAt),
		UpdatedAt:         toMillis(a.UpdatedAt),
	}
	if a.Token.ExpiresAt != nil {
		row.TokenExpiresAt = sql.NullInt64{Int64: toMillis(*a.Token.ExpiresAt), Valid: true}
	}
	return row, nil
}

func decodeRow(box *sealbox.Box, row *accountRow) (*accounts.ConnectedAccount, error) {
	value, err := box.Open(row.TokenValue)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore decodeRow] account %s token: %w", row.ID, err)
	}
	refresh, err := box.Open(row.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("[sqlstore decodeRow] account %s refresh token: %w", row.ID, err)
	}

	a := &accounts.ConnectedAccount{
		ID:                row.ID,
		CustomerID:        row.CustomerID,
		Platform:          accounts.Platform(row.Platform),
		ExternalAccountID: row.ExternalAccountID,
		DisplayName:       row.DisplayName,
		ProfileImageURL:   row.ProfileImageURL,
		Token: accounts.Token{
			Value:        value,
			Kind:         accounts.TokenKind(row.TokenKind),
			IssuedAt:     fromMillis(row.TokenIssuedAt),
			RefreshToken: refresh,
		},
		Status:      accounts.Status(row.Status),
		Degraded:    row.Degraded,
		LastError:   row.LastError,
		ConnectedAt: fromMillis(row.ConnectedAt),
		UpdatedAt:   fromMillis(row.UpdatedAt),
	}
	if row.TokenExpiresAt.Valid {
		exp := fromMillis(row.TokenExpiresAt.Int64)
		a.Token.ExpiresAt = &exp
	}
	if row.SubResources != "" {
		raw, err := box.Open(row.SubResources)
		if err != nil {
			return nil, fmt.Errorf("[sqlstore decodeRow] account %s sub resources: %w", row.ID, err)
		}
		if err := json.Unmarshal([]byte(raw), &a.SubResources); err != nil {
			return nil, fmt.Errorf("[sqlstore decodeRow] account %s sub resources: %w", row.ID, err)
		}
	}
	return a, nil
}
