package db

import (
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestWithFoundRows(t *testing.T) {
	out, err := withFoundRows("tenantsync:tenantsync@tcp(127.0.0.1:3306)/tenantsync?parseTime=true")
	if err != nil {
		t.Fatalf("withFoundRows: %v", err)
	}

	cfg, err := mysql.ParseDSN(out)
	if err != nil {
		t.Fatalf("parse result: %v", err)
	}
	if !cfg.ClientFoundRows {
		t.Fatal("clientFoundRows must be set; CAS updates read RowsAffected as matched-rows")
	}
	if !cfg.ParseTime {
		t.Fatal("existing DSN params must be preserved")
	}
	if cfg.DBName != "tenantsync" || cfg.Addr != "127.0.0.1:3306" {
		t.Fatalf("dsn mangled: %s", out)
	}
}

func TestWithFoundRowsRejectsGarbage(t *testing.T) {
	if _, err := withFoundRows("not a dsn"); err == nil {
		t.Fatal("want parse error")
	}
}
