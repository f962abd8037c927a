package model

// Account is owned by an external system-of-record; this engine only reads it.
type Account struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
}

// AccountContact is the block attached to a published candidate.
type AccountContact struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

func (a Account) Contact() *AccountContact {
	return &AccountContact{
		Name:    a.Name,
		Email:   a.Email,
		Phone:   a.Phone,
		Address: a.Address,
	}
}
