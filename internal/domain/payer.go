package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Payer is the master record for an insurance payer. PayerID is the
// normalized external identifier claims arrive with; ID is our row key.
// Rows referenced by a claim before an administrator creates them are
// auto-created with CreatedBy = SystemAutoCreator.
type Payer struct {
	ID          uuid.UUID `json:"id"`
	PayerID     string    `json:"payerId"`
	Name        string    `json:"name"`
	IsaSenderID string    `json:"isaSenderId"`

	AddressLine1 *string `json:"addressLine1,omitempty"`
	AddressLine2 *string `json:"addressLine2,omitempty"`
	City         *string `json:"city,omitempty"`
	State        *string `json:"state,omitempty"`
	ZipCode      *string `json:"zipCode,omitempty"`

	SftpHost     *string `json:"sftpHost,omitempty"`
	SftpPort     *int32  `json:"sftpPort,omitempty"`
	SftpUsername *string `json:"sftpUsername,omitempty"`
	// SftpPassword holds the ciphertext produced by the encryption
	// collaborator, never the clear value.
	SftpPassword *string `json:"-"`
	SftpPath     *string `json:"sftpPath,omitempty"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Payee is the master record for a pharmacy / provider being paid.
type Payee struct {
	ID      uuid.UUID `json:"id"`
	PayeeID string    `json:"payeeId"`
	Name    string    `json:"name"`

	AddressLine1 *string `json:"addressLine1,omitempty"`
	AddressLine2 *string `json:"addressLine2,omitempty"`
	City         *string `json:"city,omitempty"`
	State        *string `json:"state,omitempty"`
	ZipCode      *string `json:"zipCode,omitempty"`

	NPI *string `json:"npi,omitempty"`

	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SystemAutoCreator marks master rows the aggregator created on demand.
const SystemAutoCreator = "SYSTEM_AUTO"

// SftpConfig is the delivery destination derived from a payer row. Password
// is the decrypted value, held only for the life of one delivery attempt.
type SftpConfig struct {
	Host     string
	Port     int32
	Username string
	Password string
	Path     string
}

type PayerRepository interface {
	GetByPayerID(ctx context.Context, payerID string) (*Payer, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Payer, error)
	Create(ctx context.Context, payer *Payer) (*Payer, error)
}

type PayeeRepository interface {
	GetByPayeeID(ctx context.Context, payeeID string) (*Payee, error)
	Create(ctx context.Context, payee *Payee) (*Payee, error)
}
