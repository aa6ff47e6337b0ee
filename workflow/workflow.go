/*
Package workflow orchestrates the sale lifecycle.

PURPOSE:
  Ties the versioned entity store, the job queue, and the reconciliation
  engine together. On sale creation (webhook) it writes history and enqueues
  reconciliation; on user actions (connect, disconnect, refund, cancel) it
  runs reconciliation synchronously and appends the matching history row.

ORDERING:
  The versioned store imposes no cross-call ordering, so every workflow
  operation runs its whole read -> reconcile -> append sequence inside one
  store transaction. A job handler's transaction (opened by the scheduler)
  is joined rather than nested.

FAILURE SURFACES:
  Synchronous operations return ReconciliationError to the API caller for
  an inline user-visible error. Queued operations fail invisibly to the end
  user - the scheduler retries them per the job's budget, and the eventual
  state shows up in history entries and operator logs.
*/
package workflow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/giltayar/coursesales/academy"
	"github.com/giltayar/coursesales/jobs"
	"github.com/giltayar/coursesales/provider"
	"github.com/giltayar/coursesales/reconcile"
	"github.com/giltayar/coursesales/versioned"
)

// Job types registered by this package.
const (
	JobConnectSale          = "sale.connect"
	JobFinalizeCancellation = "sale.finalize-cancellation"
)

// SaleJob is the payload of both sale job types.
type SaleJob struct {
	SaleNumber versioned.EntityNumber `json:"saleNumber"`
}

// Config wires a Workflow.
type Config struct {
	Entities *versioned.Entities
	Engine   *reconcile.Engine
	Registry *jobs.Registry
	JobStore jobs.Store
	Log      *zap.Logger

	// RunInTx serializes an operation's read-reconcile-append sequence in
	// one store transaction. Nil means no transactional store (tests).
	RunInTx jobs.TxRunner

	// Trigger kicks the job scheduler after an enqueue. Nil means jobs wait
	// for the next poll.
	Trigger func(ctx context.Context)

	// CancelGrace is how long a cancelled standing order keeps its course
	// and group access before finalization.
	CancelGrace time.Duration
}

// Workflow is the sale orchestrator.
type Workflow struct {
	Students *academy.Students
	Products *academy.Products
	Events   *academy.SalesEvents
	Sales    *academy.Sales

	engine      *reconcile.Engine
	log         *zap.Logger
	runInTx     jobs.TxRunner
	trigger     func(ctx context.Context)
	cancelGrace time.Duration

	// Clock is overridable for tests.
	Clock func() time.Time

	submitConnect  jobs.SubmitFunc[SaleJob]
	submitFinalize jobs.SubmitFunc[SaleJob]
}

// New builds the workflow and registers its job handlers. Registration is
// startup-time: a duplicate job type is a fatal wiring error.
func New(cfg Config) (*Workflow, error) {
	w := &Workflow{
		Students:    academy.NewStudents(cfg.Entities),
		Products:    academy.NewProducts(cfg.Entities),
		Events:      academy.NewSalesEvents(cfg.Entities),
		Sales:       academy.NewSales(cfg.Entities),
		engine:      cfg.Engine,
		log:         cfg.Log,
		runInTx:     cfg.RunInTx,
		trigger:     cfg.Trigger,
		cancelGrace: cfg.CancelGrace,
		Clock:       time.Now,
	}

	var err error
	w.submitConnect, err = jobs.Register(cfg.Registry, cfg.JobStore, JobConnectSale,
		func(ctx context.Context, p SaleJob) error {
			return w.ConnectSale(ctx, p.SaleNumber)
		})
	if err != nil {
		return nil, err
	}

	w.submitFinalize, err = jobs.Register(cfg.Registry, cfg.JobStore, JobFinalizeCancellation,
		func(ctx context.Context, p SaleJob) error {
			return w.finalizeCancellation(ctx, p.SaleNumber)
		})
	if err != nil {
		return nil, err
	}

	return w, nil
}

func (w *Workflow) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if w.runInTx == nil {
		return fn(ctx)
	}
	return w.runInTx(ctx, fn)
}

// =============================================================================
// WEBHOOK INTAKE
// =============================================================================

// WebhookSale is a validated sale notification from the payment platform.
type WebhookSale struct {
	StudentName  string
	StudentEmail string
	StudentPhone string

	SalesEventNumber versioned.EntityNumber
	Reference        string
	Items            []academy.LineItem
	Delivery         *academy.Delivery
}

// Receipt reports what a webhook produced.
type Receipt struct {
	SaleNumber     versioned.EntityNumber
	StudentNumber  versioned.EntityNumber
	StudentCreated bool
}

// HandleSaleWebhook records a sale: upserts the student by email, creates
// the sale entity, and enqueues the connect job - all in one transaction,
// so the job row is durable exactly when the sale is. The actual provider
// calls happen on the scheduler's drain, decoupling webhook latency from
// slow external systems.
func (w *Workflow) HandleSaleWebhook(ctx context.Context, in WebhookSale) (Receipt, error) {
	var receipt Receipt
	err := w.inTx(ctx, func(ctx context.Context) error {
		student, found, err := w.Students.FindByEmail(ctx, in.StudentEmail)
		if err != nil {
			return err
		}
		if found {
			receipt.StudentNumber = student.Number
		} else {
			num, err := w.Students.Create(ctx, academy.StudentCore{
				Name:  in.StudentName,
				Email: in.StudentEmail,
				Phone: in.StudentPhone,
			})
			if err != nil {
				return err
			}
			receipt.StudentNumber = num
			receipt.StudentCreated = true
		}

		saleNum, err := w.Sales.Create(ctx, academy.NewSale{
			Core: academy.SaleCore{
				StudentNumber:    receipt.StudentNumber,
				SalesEventNumber: in.SalesEventNumber,
				Reference:        in.Reference,
			},
			Items:    in.Items,
			Delivery: in.Delivery,
		})
		if err != nil {
			return err
		}
		receipt.SaleNumber = saleNum

		return w.submitConnect(ctx, SaleJob{SaleNumber: saleNum})
	})
	if err != nil {
		return Receipt{}, fmt.Errorf("sale webhook: %w", err)
	}

	w.log.Info("sale recorded",
		zap.Int64("sale", int64(receipt.SaleNumber)),
		zap.Int64("student", int64(receipt.StudentNumber)),
		zap.Bool("student_created", receipt.StudentCreated))

	if w.trigger != nil {
		go w.trigger(context.WithoutCancel(ctx))
	}
	return receipt, nil
}

// =============================================================================
// SALE LIFECYCLE OPERATIONS
// =============================================================================

// ConnectSale applies the sale's external side effects and appends the
// connect history row. Also the handler of the sale.connect job, so a
// failed synchronous connect can be retried from the queue and vice versa -
// reconciliation is idempotent either way.
func (w *Workflow) ConnectSale(ctx context.Context, num versioned.EntityNumber) error {
	return w.inTx(ctx, func(ctx context.Context) error {
		identity, err := w.identity(ctx, num)
		if err != nil {
			return err
		}
		if err := w.engine.Connect(ctx, identity); err != nil {
			return err
		}
		_, err = w.Sales.Connect(ctx, num, "")
		return err
	})
}

// DisconnectSale reverses the sale's external side effects.
func (w *Workflow) DisconnectSale(ctx context.Context, num versioned.EntityNumber, reason string) error {
	return w.inTx(ctx, func(ctx context.Context) error {
		identity, err := w.identity(ctx, num)
		if err != nil {
			return err
		}
		if err := w.engine.Disconnect(ctx, identity); err != nil {
			return err
		}
		_, err = w.Sales.Disconnect(ctx, num, reason)
		return err
	})
}

// RefundSale reverses the side effects and records a refund.
func (w *Workflow) RefundSale(ctx context.Context, num versioned.EntityNumber, reason string) error {
	return w.inTx(ctx, func(ctx context.Context) error {
		identity, err := w.identity(ctx, num)
		if err != nil {
			return err
		}
		if err := w.engine.Disconnect(ctx, identity); err != nil {
			return err
		}
		_, err = w.Sales.Refund(ctx, num, reason)
		return err
	})
}

// CancelSubscription starts ending a standing order: the contact moves to
// the cancelling lists now, and finalization is scheduled after the grace
// period.
func (w *Workflow) CancelSubscription(ctx context.Context, num versioned.EntityNumber, reason string) error {
	err := w.inTx(ctx, func(ctx context.Context) error {
		identity, err := w.identity(ctx, num)
		if err != nil {
			return err
		}
		if err := w.engine.CancelSubscription(ctx, identity); err != nil {
			return err
		}
		if _, err := w.Sales.CancelSubscription(ctx, num, reason); err != nil {
			return err
		}
		return w.submitFinalize(ctx, SaleJob{SaleNumber: num},
			jobs.At(w.Clock().Add(w.cancelGrace)))
	})
	if err != nil {
		return err
	}

	w.log.Info("subscription cancellation scheduled",
		zap.Int64("sale", int64(num)),
		zap.Duration("grace", w.cancelGrace))
	return nil
}

// finalizeCancellation is the sale.finalize-cancellation job handler.
func (w *Workflow) finalizeCancellation(ctx context.Context, num versioned.EntityNumber) error {
	return w.inTx(ctx, func(ctx context.Context) error {
		identity, err := w.identity(ctx, num)
		if err != nil {
			return err
		}
		if err := w.engine.FinalizeCancellation(ctx, identity); err != nil {
			return err
		}
		_, err = w.Sales.RemovedFromSubscription(ctx, num, "")
		return err
	})
}

// =============================================================================
// IDENTITY RESOLUTION
// =============================================================================

// identity builds the sale's external-facing identity: the student's contact
// info plus each sold product's provider configuration. A missing entity is
// ErrNotFound and fatal to the operation - nothing external has been applied
// yet when this fails.
func (w *Workflow) identity(ctx context.Context, num versioned.EntityNumber) (reconcile.Identity, error) {
	sale, err := w.Sales.Get(ctx, num)
	if err != nil {
		return reconcile.Identity{}, err
	}
	student, err := w.Students.Get(ctx, sale.Core.StudentNumber)
	if err != nil {
		return reconcile.Identity{}, err
	}

	identity := reconcile.Identity{
		Contact: provider.Contact{
			Name:  student.Core.Name,
			Email: student.Core.Email,
			Phone: student.Core.Phone,
		},
	}
	for _, item := range sale.Items {
		product, err := w.Products.Get(ctx, item.ProductNumber)
		if err != nil {
			return reconcile.Identity{}, err
		}
		integ := product.Integration
		identity.Products = append(identity.Products, reconcile.ProductIntegration{
			CourseIDs: integ.CourseIDs,
			Lists: reconcile.ListIDs{
				Active:     integ.Lists.Active,
				Cancelling: integ.Lists.Cancelling,
				Cancelled:  integ.Lists.Cancelled,
				Removed:    integ.Lists.Removed,
			},
			GroupIDs: integ.GroupIDs,
		})
	}
	return identity, nil
}
