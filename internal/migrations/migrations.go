package migrations

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/jmoiron/sqlx"

	"medeasy/pharmacy/internal/rowstore/sqlstore"
)

// schema is written in the subset of SQL shared by sqlite and mysql; only the
// primary key clause differs and is filled in by Statements.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS pharmacies (
            id {{pk}},
            name VARCHAR(255) NOT NULL,
            address VARCHAR(255),
            phone VARCHAR(64),
            email VARCHAR(255),
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
	`CREATE TABLE IF NOT EXISTS users (
            id {{pk}},
            email VARCHAR(255) NOT NULL UNIQUE,
            password_hash VARCHAR(255) NOT NULL,
            full_name VARCHAR(255) NOT NULL,
            pharmacy_id BIGINT,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            must_change_password BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id)
        )`,
	`CREATE TABLE IF NOT EXISTS branches (
            id {{pk}},
            pharmacy_id BIGINT NOT NULL,
            name VARCHAR(255) NOT NULL,
            address VARCHAR(255),
            location VARCHAR(255),
            phone VARCHAR(64),
            email VARCHAR(255),
            is_main_branch BOOLEAN NOT NULL DEFAULT 0,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id)
        )`,
	`CREATE TABLE IF NOT EXISTS roles (
            id {{pk}},
            name VARCHAR(64) NOT NULL UNIQUE,
            description VARCHAR(255),
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
	`CREATE TABLE IF NOT EXISTS user_roles (
            id {{pk}},
            user_id BIGINT NOT NULL,
            role_id BIGINT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(user_id) REFERENCES users(id),
            FOREIGN KEY(role_id) REFERENCES roles(id)
        )`,
	`CREATE TABLE IF NOT EXISTS user_branches (
            id {{pk}},
            user_id BIGINT NOT NULL,
            branch_id BIGINT NOT NULL,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(user_id) REFERENCES users(id),
            FOREIGN KEY(branch_id) REFERENCES branches(id)
        )`,
	`CREATE TABLE IF NOT EXISTS payment_methods (
            id {{pk}},
            name VARCHAR(64) NOT NULL UNIQUE,
            description VARCHAR(255),
            is_active BOOLEAN NOT NULL DEFAULT 1
        )`,
	`CREATE TABLE IF NOT EXISTS medicine_categories (
            id {{pk}},
            name VARCHAR(255) NOT NULL UNIQUE,
            description VARCHAR(255),
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
	`CREATE TABLE IF NOT EXISTS medicines (
            id {{pk}},
            name VARCHAR(255) NOT NULL,
            generic_name VARCHAR(255),
            brand_name VARCHAR(255),
            category_id BIGINT,
            branch_id BIGINT,
            sku VARCHAR(64),
            unit_type VARCHAR(64),
            strength VARCHAR(64),
            manufacturer VARCHAR(255),
            description TEXT,
            min_stock_level BIGINT NOT NULL DEFAULT 10,
            requires_prescription BOOLEAN NOT NULL DEFAULT 0,
            unit_price DOUBLE NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(category_id) REFERENCES medicine_categories(id),
            FOREIGN KEY(branch_id) REFERENCES branches(id)
        )`,
	`CREATE TABLE IF NOT EXISTS stocks (
            id {{pk}},
            medicine_id BIGINT NOT NULL,
            branch_id BIGINT NOT NULL,
            quantity BIGINT NOT NULL DEFAULT 0,
            last_restocked DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(medicine_id) REFERENCES medicines(id),
            FOREIGN KEY(branch_id) REFERENCES branches(id)
        )`,
	`CREATE TABLE IF NOT EXISTS medicine_batches (
            id {{pk}},
            medicine_id BIGINT NOT NULL,
            batch_number VARCHAR(64) NOT NULL,
            expiry_date VARCHAR(32) NOT NULL,
            quantity BIGINT NOT NULL,
            cost_price DOUBLE,
            selling_price DOUBLE,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(medicine_id) REFERENCES medicines(id)
        )`,
	`CREATE TABLE IF NOT EXISTS stock_movements (
            id {{pk}},
            medicine_id BIGINT NOT NULL,
            branch_id BIGINT NOT NULL,
            user_id BIGINT,
            type VARCHAR(32) NOT NULL,
            quantity BIGINT NOT NULL,
            reason VARCHAR(255),
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(medicine_id) REFERENCES medicines(id),
            FOREIGN KEY(branch_id) REFERENCES branches(id),
            FOREIGN KEY(user_id) REFERENCES users(id)
        )`,
	`CREATE TABLE IF NOT EXISTS sales (
            id {{pk}},
            pharmacy_id BIGINT NOT NULL,
            branch_id BIGINT NOT NULL,
            user_id BIGINT,
            payment_method_id BIGINT,
            customer_name VARCHAR(255),
            customer_phone VARCHAR(64),
            total_amount DOUBLE NOT NULL,
            discount_amount DOUBLE NOT NULL DEFAULT 0,
            tax_amount DOUBLE NOT NULL DEFAULT 0,
            final_amount DOUBLE NOT NULL,
            status VARCHAR(32) NOT NULL DEFAULT 'COMPLETED',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id),
            FOREIGN KEY(branch_id) REFERENCES branches(id),
            FOREIGN KEY(user_id) REFERENCES users(id),
            FOREIGN KEY(payment_method_id) REFERENCES payment_methods(id)
        )`,
	`CREATE TABLE IF NOT EXISTS sale_items (
            id {{pk}},
            sale_id BIGINT NOT NULL,
            medicine_id BIGINT NOT NULL,
            quantity BIGINT NOT NULL,
            unit_price DOUBLE NOT NULL,
            total_price DOUBLE NOT NULL,
            FOREIGN KEY(sale_id) REFERENCES sales(id),
            FOREIGN KEY(medicine_id) REFERENCES medicines(id)
        )`,
	`CREATE TABLE IF NOT EXISTS payments (
            id {{pk}},
            sale_id BIGINT NOT NULL,
            pharmacy_id BIGINT NOT NULL,
            amount DOUBLE NOT NULL,
            method VARCHAR(32) NOT NULL,
            status VARCHAR(32) NOT NULL DEFAULT 'pending',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(sale_id) REFERENCES sales(id),
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id)
        )`,
	`CREATE TABLE IF NOT EXISTS payment_transactions (
            id {{pk}},
            payment_id BIGINT NOT NULL,
            provider VARCHAR(32) NOT NULL,
            tx_ref VARCHAR(64) NOT NULL UNIQUE,
            verified BOOLEAN NOT NULL DEFAULT 0,
            raw_response TEXT,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(payment_id) REFERENCES payments(id)
        )`,
	`CREATE TABLE IF NOT EXISTS refunds (
            id {{pk}},
            sale_id BIGINT NOT NULL,
            pharmacy_id BIGINT NOT NULL,
            branch_id BIGINT NOT NULL,
            user_id BIGINT,
            amount DOUBLE NOT NULL,
            reason VARCHAR(255),
            status VARCHAR(32) NOT NULL DEFAULT 'COMPLETED',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(sale_id) REFERENCES sales(id),
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id),
            FOREIGN KEY(branch_id) REFERENCES branches(id),
            FOREIGN KEY(user_id) REFERENCES users(id)
        )`,
	`CREATE TABLE IF NOT EXISTS refund_items (
            id {{pk}},
            refund_id BIGINT NOT NULL,
            sale_item_id BIGINT NOT NULL,
            medicine_id BIGINT NOT NULL,
            quantity BIGINT NOT NULL,
            amount DOUBLE NOT NULL,
            FOREIGN KEY(refund_id) REFERENCES refunds(id),
            FOREIGN KEY(sale_item_id) REFERENCES sale_items(id),
            FOREIGN KEY(medicine_id) REFERENCES medicines(id)
        )`,
	`CREATE TABLE IF NOT EXISTS cashier_shifts (
            id {{pk}},
            user_id BIGINT NOT NULL,
            branch_id BIGINT NOT NULL,
            opened_at DATETIME,
            closed_at DATETIME,
            opening_balance DOUBLE NOT NULL DEFAULT 0,
            closing_balance DOUBLE,
            actual_sales DOUBLE,
            status VARCHAR(16) NOT NULL DEFAULT 'OPEN',
            notes VARCHAR(255),
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(user_id) REFERENCES users(id),
            FOREIGN KEY(branch_id) REFERENCES branches(id)
        )`,
	`CREATE TABLE IF NOT EXISTS subscription_plans (
            id {{pk}},
            name VARCHAR(64) NOT NULL UNIQUE,
            price DOUBLE NOT NULL DEFAULT 0,
            max_branches BIGINT NOT NULL DEFAULT 1,
            max_staff_per_branch BIGINT NOT NULL DEFAULT 5,
            max_medicines BIGINT NOT NULL DEFAULT 100,
            max_import_rows BIGINT NOT NULL DEFAULT 100,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
	`CREATE TABLE IF NOT EXISTS pharmacy_subscriptions (
            id {{pk}},
            pharmacy_id BIGINT NOT NULL,
            plan_id BIGINT NOT NULL,
            status VARCHAR(16) NOT NULL,
            trial_ends_at VARCHAR(32),
            grace_ends_at VARCHAR(32),
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id),
            FOREIGN KEY(plan_id) REFERENCES subscription_plans(id)
        )`,
	`CREATE TABLE IF NOT EXISTS pharmacy_documents (
            id {{pk}},
            pharmacy_id BIGINT NOT NULL,
            document_type VARCHAR(64) NOT NULL,
            file_url VARCHAR(512) NOT NULL,
            status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id)
        )`,
	`CREATE TABLE IF NOT EXISTS registration_applications (
            id {{pk}},
            pharmacy_id BIGINT,
            pharmacy_name VARCHAR(255) NOT NULL,
            owner_name VARCHAR(255) NOT NULL,
            email VARCHAR(255) NOT NULL,
            phone VARCHAR(64),
            status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(pharmacy_id) REFERENCES pharmacies(id)
        )`,
	`CREATE TABLE IF NOT EXISTS password_reset_tokens (
            id {{pk}},
            user_id BIGINT NOT NULL,
            token VARCHAR(128) NOT NULL UNIQUE,
            expires_at VARCHAR(32) NOT NULL,
            used BOOLEAN NOT NULL DEFAULT 0,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(user_id) REFERENCES users(id)
        )`,
	`CREATE TABLE IF NOT EXISTS restock_requests (
            id {{pk}},
            branch_id BIGINT NOT NULL,
            medicine_id BIGINT NOT NULL,
            user_id BIGINT,
            quantity BIGINT NOT NULL,
            status VARCHAR(16) NOT NULL DEFAULT 'PENDING',
            notes VARCHAR(255),
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            FOREIGN KEY(branch_id) REFERENCES branches(id),
            FOREIGN KEY(medicine_id) REFERENCES medicines(id),
            FOREIGN KEY(user_id) REFERENCES users(id)
        )`,
}

var (
	tableRe = regexp.MustCompile(`CREATE TABLE IF NOT EXISTS (\w+)`)
	fkRe    = regexp.MustCompile(`FOREIGN KEY\((\w+)\) REFERENCES (\w+)\(id\)`)
)

// Statements renders the schema for a driver ("sqlite" or "mysql").
func Statements(driver string) []string {
	pk := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if driver == "mysql" {
		pk = "BIGINT PRIMARY KEY AUTO_INCREMENT"
	}
	out := make([]string, len(schema))
	for i, stmt := range schema {
		out[i] = strings.ReplaceAll(stmt, "{{pk}}", pk)
	}
	return out
}

// Tables lists the tables the schema creates, in creation order.
func Tables() []string {
	out := make([]string, 0, len(schema))
	for _, stmt := range schema {
		out = append(out, tableRe.FindStringSubmatch(stmt)[1])
	}
	return out
}

// ForeignKeys lists every declared relation, for embedding in sqlstore.
func ForeignKeys() []sqlstore.ForeignKey {
	var keys []sqlstore.ForeignKey
	for _, stmt := range schema {
		table := tableRe.FindStringSubmatch(stmt)[1]
		for _, m := range fkRe.FindAllStringSubmatch(stmt, -1) {
			keys = append(keys, sqlstore.ForeignKey{Table: table, Column: m[1], References: m[2]})
		}
	}
	return keys
}

// Run creates the database schema required for the pharmacy backend.
func Run(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range Statements(db.DriverName()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	log.Printf("[MIGRATIONS] schema ready (%d tables)", len(schema))
	return nil
}
