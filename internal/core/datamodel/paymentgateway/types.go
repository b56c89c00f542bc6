package paymentgateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusRejected PaymentStatus = "rejected"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusOther    PaymentStatus = "other"
)

// NormalizeStatus folds gateway-specific states into the five we act on.
func NormalizeStatus(raw string) PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "approved":
		return PaymentStatusApproved
	case "pending", "in_process", "authorized", "in_mediation":
		return PaymentStatusPending
	case "rejected", "cancelled":
		return PaymentStatusRejected
	case "refunded", "charged_back":
		return PaymentStatusRefunded
	default:
		return PaymentStatusOther
	}
}

// FlexibleID accepts both JSON numbers and strings; gateways disagree.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexibleID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexibleID(n.String())
	return nil
}

func (f FlexibleID) String() string {
	return string(f)
}

// FlexibleNumber accepts 2, 2.5 or "2.5".
type FlexibleNumber float64

func (f *FlexibleNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		*f = FlexibleNumber(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = FlexibleNumber(v)
	return nil
}

// Payment is the authoritative payment document returned by
// GET /v1/payments/{id}.
type Payment struct {
	ID                 FlexibleID         `json:"id"`
	Status             string             `json:"status"`
	StatusDetail       string             `json:"status_detail"`
	CurrencyID         string             `json:"currency_id"`
	TransactionAmount  float64            `json:"transaction_amount"`
	ExternalReference  string             `json:"external_reference"`
	CollectorID        FlexibleID         `json:"collector_id"`
	DateApproved       *time.Time         `json:"date_approved"`
	Payer              Payer              `json:"payer"`
	AdditionalInfo     AdditionalInfo     `json:"additional_info"`
	FeeDetails         []FeeDetail        `json:"fee_details"`
	TransactionDetails TransactionDetails `json:"transaction_details"`
	Metadata           json.RawMessage    `json:"metadata"`
}

type Payer struct {
	Email string `json:"email"`
}

type AdditionalInfo struct {
	Items []Item `json:"items"`
}

type Item struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Quantity  FlexibleNumber `json:"quantity"`
	UnitPrice FlexibleNumber `json:"unit_price"`
}

type FeeDetail struct {
	Type     string  `json:"type"`
	Amount   float64 `json:"amount"`
	FeePayer string  `json:"fee_payer"`
}

type TransactionDetails struct {
	NetReceivedAmount float64 `json:"net_received_amount"`
	TotalPaidAmount   float64 `json:"total_paid_amount"`
}

// TotalFees sums every fee line charged to the collector.
func (p *Payment) TotalFees() float64 {
	var total float64
	for _, f := range p.FeeDetails {
		if f.FeePayer == "" || f.FeePayer == "collector" {
			total += f.Amount
		}
	}
	return total
}

// Notification is the untrusted webhook body. Only Type and Data.ID are read.
type Notification struct {
	ID     FlexibleID       `json:"id"`
	Type   string           `json:"type"`
	Topic  string           `json:"topic"`
	Action string           `json:"action"`
	Data   NotificationData `json:"data"`
}

type NotificationData struct {
	ID FlexibleID `json:"id"`
}

// ShippingState is the outcome of parsing the metadata blob.
type ShippingState int

const (
	ShippingAbsent ShippingState = iota
	ShippingPresent
	ShippingMalformed
)

func (s ShippingState) String() string {
	switch s {
	case ShippingPresent:
		return "present"
	case ShippingMalformed:
		return "malformed"
	default:
		return "absent"
	}
}

// ShippingInfo is only meaningful when State == ShippingPresent.
type ShippingInfo struct {
	State       ShippingState
	Method      string
	Cost        float64
	Address     json.RawMessage
	SaveAddress bool
	SavePhone   bool
}

type shippingMetadata struct {
	ShippingMethod  *string         `json:"shipping_method"`
	ShippingCost    *FlexibleNumber `json:"shipping_cost"`
	ShippingAddress json.RawMessage `json:"shipping_address"`
	SaveAddress     *bool           `json:"save_address"`
	SavePhone       *bool           `json:"save_phone"`
}

// ParseShipping never fails: malformed metadata degrades to "no shipping info".
func ParseShipping(raw json.RawMessage) ShippingInfo {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte("{}")) {
		return ShippingInfo{State: ShippingAbsent}
	}

	var md shippingMetadata
	if err := json.Unmarshal(trimmed, &md); err != nil {
		return ShippingInfo{State: ShippingMalformed}
	}
	if md.ShippingMethod == nil && md.ShippingCost == nil && len(md.ShippingAddress) == 0 {
		return ShippingInfo{State: ShippingAbsent}
	}

	info := ShippingInfo{State: ShippingPresent}
	if md.ShippingMethod != nil {
		info.Method = *md.ShippingMethod
	}
	if md.ShippingCost != nil {
		if *md.ShippingCost < 0 {
			return ShippingInfo{State: ShippingMalformed}
		}
		info.Cost = float64(*md.ShippingCost)
	}
	if addr := bytes.TrimSpace(md.ShippingAddress); len(addr) > 0 && !bytes.Equal(addr, []byte("null")) {
		if addr[0] != '{' || !json.Valid(addr) {
			return ShippingInfo{State: ShippingMalformed}
		}
		info.Address = json.RawMessage(addr)
	}
	if md.SaveAddress != nil {
		info.SaveAddress = *md.SaveAddress
	}
	if md.SavePhone != nil {
		info.SavePhone = *md.SavePhone
	}
	return info
}
