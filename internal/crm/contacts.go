package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/AngelCh415/workdays-etl/internal/models"
)

// Slot is the profile field a CRM custom field feeds.
type Slot string

const (
	SlotEmail   Slot = "email"
	SlotPhone   Slot = "phone"
	SlotAddress Slot = "address"
)

// FieldMap maps custom field ids to profile slots.
type FieldMap map[int64]Slot

type contactResp struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Fields []struct {
		FieldID int64 `json:"field_id"`
		Values  []struct {
			Value any `json:"value"`
		} `json:"values"`
	} `json:"custom_fields_values"`
}

// GetContact looks up one contact and resolves its mapped custom fields.
func (cl *Client) GetContact(ctx context.Context, id int64, fields FieldMap) (models.Contact, error) {
	var resp contactResp
	if err := cl.getJSON(ctx, "contacts", fmt.Sprintf("/api/v4/contacts/%d", id), nil, &resp); err != nil {
		return models.Contact{}, err
	}

	first, last := splitName(resp.Name)
	c := models.Contact{ID: id, FirstName: first, LastName: last}
	for _, f := range resp.Fields {
		if len(f.Values) == 0 {
			continue
		}
		v := fieldValue(f.Values[0].Value)
		switch fields[f.FieldID] {
		case SlotEmail:
			c.Email = v
		case SlotPhone:
			c.Phone = v
		case SlotAddress:
			c.Address = v
		}
	}
	return c, nil
}

// splitName takes the first word as first name and the rest as last name.
func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", "unknown"
	case 1:
		return parts[0], "unknown"
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func fieldValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}
