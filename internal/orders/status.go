package orders

type Status string

const (
	StatusInitiated      Status = "INITIATED"
	StatusQuoted         Status = "QUOTED"
	StatusReserved       Status = "RESERVED"
	StatusPaymentPending Status = "PAYMENT_PENDING"
	StatusPaid           Status = "PAID"
	StatusPaymentFailed  Status = "PAYMENT_FAILED"
	StatusExpired        Status = "EXPIRED"
	StatusFulfilling     Status = "FULFILLING"
	StatusCompleted      Status = "COMPLETED"
	StatusCanceled       Status = "CANCELED"
)

// PAYMENT_PENDING -> RESERVED hanya dipakai saat retry otomatis setelah
// pembayaran ditolak (reservation lama dilepas, lalu reserve ulang).
var validNext = map[Status]map[Status]bool{
	StatusInitiated:      {StatusQuoted: true, StatusCanceled: true},
	StatusQuoted:         {StatusReserved: true, StatusCanceled: true},
	StatusReserved:       {StatusPaymentPending: true, StatusPaymentFailed: true, StatusCanceled: true},
	StatusPaymentPending: {StatusPaid: true, StatusPaymentFailed: true, StatusExpired: true, StatusCanceled: true, StatusReserved: true},
	StatusPaid:           {StatusFulfilling: true},
	StatusFulfilling:     {StatusCompleted: true},
	StatusCompleted:      {},
	StatusPaymentFailed:  {},
	StatusExpired:        {},
	StatusCanceled:       {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// PrePayment reports whether a caller may still cancel.
func (s Status) PrePayment() bool {
	switch s {
	case StatusInitiated, StatusQuoted, StatusReserved, StatusPaymentPending:
		return true
	}
	return false
}

// Processing is what the storefront shows as "processing": the order is
// neither finished nor failed yet.
func (s Status) Processing() bool {
	return !s.Terminal()
}
