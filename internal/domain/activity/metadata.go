package activity

import (
	"encoding/json"
)

// Metadata attaches structured context to an event. Known shapes get typed
// variants; anything else survives as UnknownMetadata so producers can ship
// new shapes without a coordinated deploy.
type Metadata interface {
	Kind() string
}

// Metadata discriminator values stored alongside the payload.
const (
	MetadataKindAuth       = "auth"
	MetadataKindRequest    = "request"
	MetadataKindBlockchain = "blockchain"
	MetadataKindFinancial  = "financial"
)

// AuthMetadata describes login/session context.
type AuthMetadata struct {
	Method    string `json:"method"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	MFAUsed   bool   `json:"mfa_used,omitempty"`
}

func (AuthMetadata) Kind() string { return MetadataKindAuth }

// RequestMetadata describes the API request that produced the event.
type RequestMetadata struct {
	RequestID  string `json:"request_id"`
	Method     string `json:"method,omitempty"`
	Path       string `json:"path,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
}

func (RequestMetadata) Kind() string { return MetadataKindRequest }

// BlockchainMetadata describes an on-chain operation.
type BlockchainMetadata struct {
	Network     string `json:"network"`
	TxHash      string `json:"tx_hash,omitempty"`
	BlockNumber int64  `json:"block_number,omitempty"`
	Contract    string `json:"contract,omitempty"`
	GasUsed     int64  `json:"gas_used,omitempty"`
}

func (BlockchainMetadata) Kind() string { return MetadataKindBlockchain }

// FinancialMetadata describes a monetary operation. Amount is kept as the
// producer's decimal string; parsing happens where arithmetic is needed.
type FinancialMetadata struct {
	Amount     string `json:"amount"`
	Currency   string `json:"currency,omitempty"`
	Reference  string `json:"reference,omitempty"`
	ApprovalID string `json:"approval_id,omitempty"`
}

func (FinancialMetadata) Kind() string { return MetadataKindFinancial }

// UnknownMetadata carries shapes this version does not recognize.
type UnknownMetadata map[string]any

func (UnknownMetadata) Kind() string { return "unknown" }

// metadataEnvelope is the wire form: discriminator plus raw payload.
type metadataEnvelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// EncodeMetadata serializes metadata with its discriminator. Nil metadata
// encodes as null.
func EncodeMetadata(m Metadata) ([]byte, error) {
	if m == nil {
		return []byte("null"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(metadataEnvelope{Kind: m.Kind(), Data: data})
}

// DecodeMetadata reverses EncodeMetadata. Unrecognized kinds decode into
// UnknownMetadata rather than failing.
func DecodeMetadata(raw []byte) (Metadata, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var env metadataEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}

	// Not the envelope shape: producers may ship a plain key-value object.
	// Keep every key instead of forcing the discriminator layout on it.
	if env.Kind == "" || len(env.Data) == 0 {
		var m UnknownMetadata
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		return m, nil
	}

	switch env.Kind {
	case MetadataKindAuth:
		var m AuthMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MetadataKindRequest:
		var m RequestMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MetadataKindBlockchain:
		var m BlockchainMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	case MetadataKindFinancial:
		var m FinancialMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		var m UnknownMetadata
		if err := json.Unmarshal(env.Data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
}
