package service

import (
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/thanhtoan69/ahihi-sub023/internal/events"
	offsetdomain "github.com/thanhtoan69/ahihi-sub023/internal/offset/domain"
	orderdomain "github.com/thanhtoan69/ahihi-sub023/internal/order/domain"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	statements := []string{
		`CREATE TABLE carbon_offset_records (
			id BIGINT PRIMARY KEY,
			order_id BIGINT NOT NULL UNIQUE,
			amount BIGINT NOT NULL,
			currency TEXT NOT NULL,
			processed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			processed_at TIMESTAMP
		)`,
		`CREATE TABLE domain_events (
			id BIGINT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload TEXT,
			dedupe_key TEXT UNIQUE,
			published BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("create table: %v", err)
		}
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, percent float64) offsetdomain.Service {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("new snowflake node: %v", err)
	}
	return Provide(node, events.NewOutbox(db, node), zap.NewNop(), percent)
}

func testOrder() *orderdomain.Order {
	return &orderdomain.Order{
		ID:          snowflake.ID(1001),
		OrderNumber: "GP-1001",
		TotalAmount: 10000,
		Currency:    "USD",
		Status:      orderdomain.StatusCompleted,
	}
}

func TestComputeDonation(t *testing.T) {
	cases := []struct {
		total   int64
		percent float64
		want    int64
	}{
		{10000, 2, 200},
		{99, 1.5, 1},
		{1, 2, 0},
		{25, 2, 1},
		{10000, 0, 0},
		{0, 2, 0},
		{-500, 2, 0},
	}
	for _, tc := range cases {
		if got := offsetdomain.ComputeDonation(tc.total, tc.percent); got != tc.want {
			t.Fatalf("ComputeDonation(%d, %v) = %d, want %d", tc.total, tc.percent, got, tc.want)
		}
	}
}

func TestRecordCaptureCreatesRecordAndEvent(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, 2)

	created, err := svc.RecordCapture(context.Background(), db, testOrder())
	if err != nil {
		t.Fatalf("record capture: %v", err)
	}
	if !created {
		t.Fatal("expected a new donation record")
	}

	var record offsetdomain.CarbonOffsetRecord
	if err := db.Raw(`SELECT * FROM carbon_offset_records WHERE order_id = ?`, 1001).Scan(&record).Error; err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.Amount != 200 {
		t.Fatalf("expected donation 200, got %d", record.Amount)
	}
	if record.Currency != "USD" {
		t.Fatalf("expected currency USD, got %s", record.Currency)
	}
	if !record.Processed {
		t.Fatal("expected the record to be marked processed")
	}
	if record.ProcessedAt == nil {
		t.Fatal("expected processed_at to be set")
	}

	var eventCount int64
	if err := db.Raw(`SELECT COUNT(*) FROM domain_events WHERE event_type = ?`, events.EventCarbonOffsetDonation).Scan(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 1 {
		t.Fatalf("expected 1 donation event, got %d", eventCount)
	}
}

func TestRecordCaptureIsIdempotentPerOrder(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, 2)

	for i := 0; i < 3; i++ {
		created, err := svc.RecordCapture(context.Background(), db, testOrder())
		if err != nil {
			t.Fatalf("record capture %d: %v", i, err)
		}
		if created != (i == 0) {
			t.Fatalf("call %d: created = %v", i, created)
		}
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM carbon_offset_records`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected a single donation record, got %d", count)
	}
}

func TestRecordCaptureZeroPercentIsNoop(t *testing.T) {
	db := setupTestDB(t)
	svc := newTestService(t, db, 0)

	created, err := svc.RecordCapture(context.Background(), db, testOrder())
	if err != nil {
		t.Fatalf("record capture: %v", err)
	}
	if created {
		t.Fatal("expected no record at 0 percent")
	}

	var count int64
	if err := db.Raw(`SELECT COUNT(*) FROM carbon_offset_records`).Scan(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no records, got %d", count)
	}
}
