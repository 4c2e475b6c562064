package main

import (
	"context"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/sma-fee-ledger/internal/models"
	"github.com/noah-isme/sma-fee-ledger/internal/repository"
	"github.com/noah-isme/sma-fee-ledger/pkg/config"
	"github.com/noah-isme/sma-fee-ledger/pkg/database"
)

// seed_admin creates or refreshes an admin account so a fresh install can log in.
func main() {
	var (
		email    string
		name     string
		role     string
		password string
	)
	flag.StringVar(&email, "email", "", "Admin email (required)")
	flag.StringVar(&name, "name", "Administrator", "Display name")
	flag.StringVar(&role, "role", string(models.RoleSuperAdmin), "ADMIN or SUPERADMIN")
	flag.StringVar(&password, "password", os.Getenv("SEED_ADMIN_PASSWORD"), "Password (defaults to $SEED_ADMIN_PASSWORD)")
	flag.Parse()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		log.Fatal("email and password are required")
	}
	adminRole := models.UserRole(strings.ToUpper(role))
	if adminRole != models.RoleAdmin && adminRole != models.RoleSuperAdmin {
		log.Fatalf("unknown role %q", role)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close() //nolint:errcheck

	if err := database.RunMigrations(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	admin := &models.Admin{Name: name, Email: email, PasswordHash: string(hash), Role: adminRole, Active: true}
	if err := repository.NewAdminRepository(db).Upsert(ctx, admin); err != nil {
		log.Fatalf("failed to save admin: %v", err)
	}
	log.Printf("admin %s ready (%s)", email, adminRole)
}
