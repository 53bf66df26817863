// Package lightning defines the payment-backend contract the mint uses to
// request invoices and send payments, independent of which Lightning
// implementation (lnd, CLN, or an in-memory fake for tests) is behind it.
package lightning

import "context"

// Client is the capability set a Lightning backend must provide. A mint
// holds exactly one Client; which concrete implementation backs it is a
// deployment choice, not something the mint core needs to know about.
type Client interface {
	// ConnectionStatus reports whether the backend is reachable.
	ConnectionStatus() error

	// CreateInvoice asks the backend for a new incoming invoice for amount
	// sats.
	CreateInvoice(amount uint64) (Invoice, error)

	// InvoiceStatus looks up the current state of a previously created
	// invoice by its payment hash.
	InvoiceStatus(hash string) (Invoice, error)

	// FeeReserve estimates the routing fee reserve, in sats, the mint
	// should hold back when quoting a melt for this amount.
	FeeReserve(amount uint64) uint64

	// SendPayment pays a BOLT11 invoice, refusing to route above maxFee
	// sats in fees. It may return before the payment is fully resolved;
	// check PaymentStatus.PaymentStatus on the result.
	SendPayment(ctx context.Context, request string, maxFee uint64) (PaymentStatus, error)

	// OutgoingPaymentStatus looks up the state of a payment previously
	// sent with SendPayment, keyed by its payment hash.
	OutgoingPaymentStatus(ctx context.Context, hash string) (PaymentStatus, error)

	// SubscribeInvoice returns a client that blocks in Recv until the
	// invoice identified by paymentHash settles or the context is
	// canceled.
	SubscribeInvoice(ctx context.Context, paymentHash string) (InvoiceSubscriptionClient, error)
}

// Invoice describes a BOLT11 incoming payment request and its settlement
// state.
type Invoice struct {
	PaymentRequest string
	PaymentHash    string
	Preimage       string
	Settled        bool
	Amount         uint64
	Expiry         uint64
}

// State is the outcome of an outgoing payment attempt.
type State int

const (
	Succeeded State = iota
	Failed
	Pending
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "SUCCEEDED"
	case Failed:
		return "FAILED"
	case Pending:
		return "PENDING"
	default:
		return "UNKNOWN"
	}
}

// PaymentStatus is the result of sending or looking up an outgoing payment.
type PaymentStatus struct {
	Preimage      string
	PaymentStatus State
	// FeePaid is the routing fee actually charged, in sats. It is only
	// meaningful when PaymentStatus is Succeeded.
	FeePaid uint64
}

// InvoiceSubscriptionClient streams settlement updates for a single
// invoice. Recv blocks until an update arrives, the invoice settles, or the
// subscription's context is canceled.
type InvoiceSubscriptionClient interface {
	Recv() (Invoice, error)
}
