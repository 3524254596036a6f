package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"giftcard-overlay/internal/models"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("database: not found")

// DB wraps the database connection and provides methods for data access.
type DB struct {
	conn   *sqlx.DB
	driver string
}

// Open connects to the store and initializes the schema. driver is
// "sqlite3" or "postgres".
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	if driver == "sqlite3" && !strings.Contains(dsn, "?") {
		dsn += "?_foreign_keys=1"
	}

	conn, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == "sqlite3" {
		conn.SetMaxOpenConns(1)
	} else {
		conn.SetMaxOpenConns(10)
		conn.SetConnMaxLifetime(time.Hour)
	}

	db := &DB{conn: conn, driver: driver}
	if err := db.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) initSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS offers (
			id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			currency TEXT NOT NULL,
			price_minor BIGINT NOT NULL,
			max_per_order INTEGER,
			image TEXT NOT NULL DEFAULT '',
			tags TEXT NOT NULL DEFAULT '[]',
			active BOOLEAN NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offers_merchant_id ON offers(merchant_id)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			merchant_id TEXT NOT NULL,
			currency TEXT NOT NULL,
			subtotal_minor BIGINT NOT NULL,
			fee_minor BIGINT NOT NULL,
			total_minor BIGINT NOT NULL,
			buyer_name TEXT NOT NULL,
			buyer_email TEXT NOT NULL,
			recipient_email TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS gift_cards (
			code TEXT PRIMARY KEY,
			order_id TEXT NOT NULL REFERENCES orders(id),
			offer_id TEXT NOT NULL,
			value_minor BIGINT NOT NULL,
			currency TEXT NOT NULL,
			recipient_email TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_gift_cards_order_id ON gift_cards(order_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}
	return nil
}

type offerRow struct {
	ID          string        `db:"id"`
	MerchantID  string        `db:"merchant_id"`
	Name        string        `db:"name"`
	Description string        `db:"description"`
	Currency    string        `db:"currency"`
	PriceMinor  int64         `db:"price_minor"`
	MaxPerOrder sql.NullInt64 `db:"max_per_order"`
	Image       string        `db:"image"`
	Tags        string        `db:"tags"`
	Active      bool          `db:"active"`
}

func (r offerRow) toModel() models.Offer {
	o := models.Offer{
		ID:          r.ID,
		MerchantID:  r.MerchantID,
		Name:        r.Name,
		Description: r.Description,
		Currency:    r.Currency,
		PriceMinor:  r.PriceMinor,
		Image:       r.Image,
		Tags:        deserializeTags(r.Tags),
		Active:      r.Active,
	}
	if r.MaxPerOrder.Valid {
		n := int(r.MaxPerOrder.Int64)
		o.MaxPerOrder = &n
	}
	return o
}

// UpsertOffer creates or updates an offer.
func (db *DB) UpsertOffer(ctx context.Context, offer models.Offer) error {
	var maxPerOrder sql.NullInt64
	if offer.MaxPerOrder != nil {
		maxPerOrder = sql.NullInt64{Int64: int64(*offer.MaxPerOrder), Valid: true}
	}

	query := db.conn.Rebind(`INSERT INTO offers (
		id, merchant_id, name, description, currency, price_minor,
		max_per_order, image, tags, active, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		merchant_id = excluded.merchant_id,
		name = excluded.name,
		description = excluded.description,
		currency = excluded.currency,
		price_minor = excluded.price_minor,
		max_per_order = excluded.max_per_order,
		image = excluded.image,
		tags = excluded.tags,
		active = excluded.active,
		updated_at = excluded.updated_at`)

	_, err := db.conn.ExecContext(ctx, query,
		offer.ID,
		offer.MerchantID,
		offer.Name,
		offer.Description,
		offer.Currency,
		offer.PriceMinor,
		maxPerOrder,
		offer.Image,
		serializeTags(offer.Tags),
		offer.Active,
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert offer: %w", err)
	}
	return nil
}

// ListOffers returns every offer of a merchant, inactive ones included.
func (db *DB) ListOffers(ctx context.Context, merchantID string) ([]models.Offer, error) {
	query := db.conn.Rebind(`SELECT id, merchant_id, name, description, currency,
		price_minor, max_per_order, image, tags, active
		FROM offers
		WHERE merchant_id = ?
		ORDER BY id`)

	var rows []offerRow
	if err := db.conn.SelectContext(ctx, &rows, query, merchantID); err != nil {
		return nil, fmt.Errorf("failed to query offers: %w", err)
	}

	offers := make([]models.Offer, 0, len(rows))
	for _, r := range rows {
		offers = append(offers, r.toModel())
	}
	return offers, nil
}

// InsertOrder stores an order and its gift cards in one transaction.
func (db *DB) InsertOrder(ctx context.Context, order models.Order, recipientEmail string) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO orders (
		id, merchant_id, currency, subtotal_minor, fee_minor, total_minor,
		buyer_name, buyer_email, recipient_email, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		order.ID,
		order.MerchantID,
		order.Currency,
		order.SubtotalMinor,
		order.FeeMinor,
		order.TotalMinor,
		order.Buyer.Name,
		order.Buyer.Email,
		recipientEmail,
		order.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", order.ID, err)
	}

	stmt, err := tx.PreparexContext(ctx, tx.Rebind(`INSERT INTO gift_cards (
		code, order_id, offer_id, value_minor, currency, recipient_email
	) VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, gc := range order.GiftCards {
		if _, err := stmt.ExecContext(ctx, gc.Code, order.ID, gc.OfferID, gc.ValueMinor, gc.Currency, gc.RecipientEmail); err != nil {
			return fmt.Errorf("failed to insert gift card %s: %w", gc.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type orderRow struct {
	ID            string    `db:"id"`
	MerchantID    string    `db:"merchant_id"`
	Currency      string    `db:"currency"`
	SubtotalMinor int64     `db:"subtotal_minor"`
	FeeMinor      int64     `db:"fee_minor"`
	TotalMinor    int64     `db:"total_minor"`
	BuyerName     string    `db:"buyer_name"`
	BuyerEmail    string    `db:"buyer_email"`
	CreatedAt     time.Time `db:"created_at"`
}

type giftCardRow struct {
	Code           string `db:"code"`
	OfferID        string `db:"offer_id"`
	ValueMinor     int64  `db:"value_minor"`
	Currency       string `db:"currency"`
	RecipientEmail string `db:"recipient_email"`
}

// GetOrder loads an order with its gift cards.
func (db *DB) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	err := db.conn.GetContext(ctx, &row, db.conn.Rebind(`SELECT id, merchant_id, currency,
		subtotal_minor, fee_minor, total_minor, buyer_name, buyer_email, created_at
		FROM orders WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	var cards []giftCardRow
	if err := db.conn.SelectContext(ctx, &cards, db.conn.Rebind(`SELECT code, offer_id,
		value_minor, currency, recipient_email
		FROM gift_cards WHERE order_id = ? ORDER BY code`), id); err != nil {
		return nil, fmt.Errorf("failed to query gift cards: %w", err)
	}

	order := &models.Order{
		ID:            row.ID,
		MerchantID:    row.MerchantID,
		Currency:      row.Currency,
		SubtotalMinor: row.SubtotalMinor,
		FeeMinor:      row.FeeMinor,
		TotalMinor:    row.TotalMinor,
		Buyer:         models.Buyer{Name: row.BuyerName, Email: row.BuyerEmail},
		CreatedAt:     row.CreatedAt,
		GiftCards:     make([]models.GiftCard, 0, len(cards)),
	}
	for _, c := range cards {
		order.GiftCards = append(order.GiftCards, models.GiftCard{
			Code:           c.Code,
			OfferID:        c.OfferID,
			ValueMinor:     c.ValueMinor,
			Currency:       c.Currency,
			RecipientEmail: c.RecipientEmail,
		})
	}
	return order, nil
}

// SeedDemoCatalog upserts the demo catalog of merchantID.
func (db *DB) SeedDemoCatalog(ctx context.Context, merchantID string) error {
	capped := func(n int) *int { return &n }

	offers := []models.Offer{
		{ID: "demo-01", Name: "Gift card 25", Description: "Spend it on anything in store.", PriceMinor: 2500, MaxPerOrder: capped(5), Tags: []string{"popular"}, Active: true},
		{ID: "demo-02", Name: "Gift card 50", Description: "Spend it on anything in store.", PriceMinor: 5000, MaxPerOrder: capped(5), Active: true},
		{ID: "demo-03", Name: "Gift card 100", Description: "For the big occasions.", PriceMinor: 10000, MaxPerOrder: capped(2), Tags: []string{"premium"}, Active: true},
		{ID: "demo-04", Name: "Spa afternoon", Description: "Two hours of relaxation.", PriceMinor: 8900, Tags: []string{"experience"}, Active: true},
		{ID: "demo-05", Name: "Summer voucher", Description: "Retired seasonal offer.", PriceMinor: 1500, Active: false},
	}

	for _, o := range offers {
		o.ID = merchantID + "-" + o.ID
		o.MerchantID = merchantID
		o.Currency = "EUR"
		if err := db.UpsertOffer(ctx, o); err != nil {
			return fmt.Errorf("failed to seed offer %s: %w", o.ID, err)
		}
	}
	return nil
}

func serializeTags(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	data, err := json.Marshal(tags)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func deserializeTags(serialized string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(serialized), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}
