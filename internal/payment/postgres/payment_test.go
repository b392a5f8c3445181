package postgres

import (
	"encoding/json"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	apperrors "github.com/idanlevi/captionflow/internal"
	paymentModel "github.com/idanlevi/captionflow/internal/core/datamodel/payment"
	paymentpkg "github.com/idanlevi/captionflow/internal/payment"
)

func TestPaymentRepository(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "PaymentRepository Suite")
}

// SQLite mirrors of the production models: jsonb does not exist there.
type SQLitePayment struct {
	ID            int64      `gorm:"primaryKey"`
	OrderID       string     `gorm:"column:order_id;not null;uniqueIndex"`
	UserID        int64      `gorm:"column:user_id;not null"`
	PackID        string     `gorm:"column:pack_id;not null"`
	Credits       int64      `gorm:"column:credits;not null"`
	AmountAgorot  int64      `gorm:"column:amount_agorot;not null"`
	Status        string     `gorm:"column:status;default:pending"`
	GatewayTxnID  *string    `gorm:"column:gateway_txn_id"`
	InvoiceRef    *string    `gorm:"column:invoice_ref"`
	FailureReason *string    `gorm:"column:failure_reason"`
	RawCallback   []byte     `gorm:"column:raw_callback"`
	ProcessedAt   *time.Time `gorm:"column:processed_at"`
	CreatedAt     time.Time  `gorm:"column:created_at"`
	UpdatedAt     time.Time  `gorm:"column:updated_at"`
}

func (SQLitePayment) TableName() string { return "payments" }

type SQLiteProfile struct {
	ID           int64     `gorm:"primaryKey"`
	Email        string    `gorm:"column:email;uniqueIndex;not null"`
	DisplayName  string    `gorm:"column:display_name"`
	VideoCredits int64     `gorm:"column:video_credits;not null;default:0"`
	IsActive     bool      `gorm:"column:is_active;default:true"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

func (SQLiteProfile) TableName() string { return "profiles" }

var _ = Describe("PaymentRepository", func() {
	var (
		db   *gorm.DB
		repo paymentpkg.Repository
	)

	credits := func(userID int64) int64 {
		var profile SQLiteProfile
		Expect(db.First(&profile, userID).Error).To(Succeed())
		return profile.VideoCredits
	}

	BeforeEach(func() {
		var err error
		db, err = gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		Expect(err).NotTo(HaveOccurred())

		err = db.AutoMigrate(&SQLitePayment{}, &SQLiteProfile{})
		Expect(err).NotTo(HaveOccurred())

		Expect(db.Create(&SQLiteProfile{
			ID:           1,
			Email:        "creator@example.com",
			VideoCredits: 10,
			IsActive:     true,
		}).Error).To(Succeed())

		repo = NewPaymentRepository(db)

		Expect(repo.Create(&paymentModel.Payment{
			OrderID:      "order-1",
			UserID:       1,
			PackID:       "starter",
			Credits:      60,
			AmountAgorot: 3990,
			Status:       paymentModel.StatusPending,
		})).To(Succeed())
	})

	AfterEach(func() {
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.Close()
	})

	Describe("GetByOrderID", func() {
		It("finds an existing order", func() {
			p, err := repo.GetByOrderID("order-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(p.PackID).To(Equal("starter"))
		})

		It("maps a missing order to the not-found sentinel", func() {
			_, err := repo.GetByOrderID("ghost")
			Expect(err).To(MatchError(apperrors.ErrOrderNotFound))
		})
	})

	Describe("ApplySuccess", func() {
		raw := json.RawMessage(`{"CCode":"0"}`)

		It("settles the order and grants credits in one transaction", func() {
			invoiceRef := "inv-77"
			settled, err := repo.ApplySuccess("order-1", "10290483", 3990, &invoiceRef, raw)
			Expect(err).NotTo(HaveOccurred())

			Expect(settled.Status).To(Equal(paymentModel.StatusSucceeded))
			Expect(*settled.GatewayTxnID).To(Equal("10290483"))
			Expect(settled.ProcessedAt).NotTo(BeNil())

			Expect(credits(1)).To(Equal(int64(70)))

			var stored SQLitePayment
			Expect(db.Where("order_id = ?", "order-1").First(&stored).Error).To(Succeed())
			Expect(stored.Status).To(Equal(paymentModel.StatusSucceeded))
			Expect(*stored.InvoiceRef).To(Equal("inv-77"))
			Expect(stored.RawCallback).To(Equal([]byte(raw)))
		})

		It("stores the gateway amount but returns the checkout amount", func() {
			settled, err := repo.ApplySuccess("order-1", "10290483", 5000, nil, raw)
			Expect(err).NotTo(HaveOccurred())

			Expect(settled.AmountAgorot).To(Equal(int64(3990)))

			var stored SQLitePayment
			Expect(db.Where("order_id = ?", "order-1").First(&stored).Error).To(Succeed())
			Expect(stored.AmountAgorot).To(Equal(int64(5000)))
			Expect(credits(1)).To(Equal(int64(70)))
		})

		It("grants credits only once for repeated applications", func() {
			_, err := repo.ApplySuccess("order-1", "10290483", 3990, nil, raw)
			Expect(err).NotTo(HaveOccurred())

			_, err = repo.ApplySuccess("order-1", "10290483", 3990, nil, raw)
			Expect(err).To(MatchError(apperrors.ErrOrderSettled))

			Expect(credits(1)).To(Equal(int64(70)))
		})

		It("refuses to settle an unknown order", func() {
			_, err := repo.ApplySuccess("ghost", "10290483", 3990, nil, raw)
			Expect(err).To(MatchError(apperrors.ErrOrderNotFound))
			Expect(credits(1)).To(Equal(int64(10)))
		})

		It("refuses to settle a failed order", func() {
			_, err := repo.MarkFailed("order-1", "card declined", raw)
			Expect(err).NotTo(HaveOccurred())

			_, err = repo.ApplySuccess("order-1", "10290483", 3990, nil, raw)
			Expect(err).To(MatchError(apperrors.ErrOrderSettled))
			Expect(credits(1)).To(Equal(int64(10)))
		})
	})

	Describe("MarkFailed", func() {
		raw := json.RawMessage(`{"CCode":"1"}`)

		It("marks the order failed without touching credits", func() {
			failed, err := repo.MarkFailed("order-1", "card blocked by issuer", raw)
			Expect(err).NotTo(HaveOccurred())

			Expect(failed.Status).To(Equal(paymentModel.StatusFailed))
			Expect(*failed.FailureReason).To(Equal("card blocked by issuer"))
			Expect(credits(1)).To(Equal(int64(10)))
		})

		It("refuses to fail an already succeeded order", func() {
			_, err := repo.ApplySuccess("order-1", "10290483", 3990, nil, raw)
			Expect(err).NotTo(HaveOccurred())

			_, err = repo.MarkFailed("order-1", "late decline", raw)
			Expect(err).To(MatchError(apperrors.ErrOrderSettled))

			var stored SQLitePayment
			Expect(db.Where("order_id = ?", "order-1").First(&stored).Error).To(Succeed())
			Expect(stored.Status).To(Equal(paymentModel.StatusSucceeded))
		})

		It("maps a missing order to the not-found sentinel", func() {
			_, err := repo.MarkFailed("ghost", "reason", raw)
			Expect(err).To(MatchError(apperrors.ErrOrderNotFound))
		})
	})
})
