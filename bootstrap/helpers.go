package bootstrap

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"
	"syscall"

	"contentmind/cache"
	"contentmind/config"
	"contentmind/core"
)

// Remediation returns operator guidance for a startup failure.
func Remediation(err error, cfg *config.Config) string {
	se, ok := core.AsStartupError(err)
	if !ok {
		return ""
	}

	switch se.Stage {
	case core.StageConfig:
		return "Invalid configuration.\n" +
			"  Remediation:\n" +
			"  - Check config.yaml (or the file passed with --config) for typos\n" +
			"  - Check CONTENTMIND_* environment variables\n" +
			"  - Run 'contentmind capabilities' to print the resolved capability set"
	case core.StageRuntime:
		addr := ""
		if cfg != nil {
			addr = cfg.Server.Addr()
		}
		if containsIgnoreCase(se.Cause.Error(), "address already in use") {
			return fmt.Sprintf("Port already in use at %s.\n"+
				"  Remediation:\n"+
				"  - Stop the other process bound to the port\n"+
				"  - Or choose another port with --port or server.port", addr)
		}
		return ""
	}

	if cfg == nil {
		return ""
	}
	switch se.Capability {
	case core.PersistenceAuditing, core.TransactionManagement:
		if cfg.Persistence.Driver == "sqlite" {
			return ClassifySQLiteError(se.Cause, cfg.Persistence.DSN)
		}
		return ClassifyConnectionError(se.Cause, "PostgreSQL", dsnHost(cfg.Persistence.DSN))
	case core.ResponseCaching:
		if errors.Is(se.Cause, cache.ErrUnknownBackend) || containsIgnoreCase(se.Cause.Error(), "cache.") {
			return fmt.Sprintf("Invalid cache configuration: %v\n"+
				"  Remediation:\n"+
				"  - Set cache.backend to memory or redis\n"+
				"  - When using redis, set cache.redis.addr (host:port)", se.Cause)
		}
		return ClassifyConnectionError(se.Cause, "Redis", cfg.Cache.Redis.Addr)
	}
	return ""
}

// ClassifyConnectionError provides specific error messages based on the type of connection failure.
func ClassifyConnectionError(err error, service, addr string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("Connection to %s at %s timed out.\n"+
			"  Possible causes:\n"+
			"  - %s is starting up (wait and retry)\n"+
			"  - Network latency or firewall blocking the connection\n"+
			"  Remediation:\n"+
			"  - Verify network connectivity: nc -zv %s", service, addr, service, addr)
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		containsIgnoreCase(errStr, "connection refused") ||
		containsIgnoreCase(errStr, "actively refused") {
		return fmt.Sprintf("Connection refused by %s at %s.\n"+
			"  This usually means %s is not running.\n"+
			"  Remediation:\n"+
			"  - Start %s: docker compose up -d\n"+
			"  - Verify the address is correct in config.yaml", service, addr, service, service)
	}

	if containsIgnoreCase(errStr, "no such host") || containsIgnoreCase(errStr, "lookup") {
		return fmt.Sprintf("Cannot resolve hostname in %s address %s.\n"+
			"  Remediation:\n"+
			"  - Verify the hostname is correct\n"+
			"  - Check DNS configuration\n"+
			"  - Try using IP address (127.0.0.1) instead of hostname", service, addr)
	}

	if containsIgnoreCase(errStr, "authentication") || containsIgnoreCase(errStr, "password") || containsIgnoreCase(errStr, "denied") {
		return fmt.Sprintf("Authentication failed for %s at %s.\n"+
			"  Remediation:\n"+
			"  - Verify credentials in config.yaml\n"+
			"  - Secret references (env:NAME, vault:path#key) must resolve to the right value", service, addr)
	}

	return fmt.Sprintf("Failed to connect to %s at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure %s is running and accessible\n"+
		"  - Verify network connectivity", service, addr, err, service)
}

// ClassifySQLiteError provides specific error messages based on the type of SQLite failure.
func ClassifySQLiteError(err error, dsn string) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()
	path := strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:")
	absPath, _ := filepath.Abs(path)
	parentDir := filepath.Dir(absPath)

	if containsIgnoreCase(errStr, "permission denied") || containsIgnoreCase(errStr, "access denied") {
		return fmt.Sprintf("Permission denied accessing SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check file permissions: ls -la %s\n"+
			"  - Check directory permissions: ls -la %s\n"+
			"  - For Docker: Ensure volume is mounted with proper user permissions",
			absPath, absPath, parentDir)
	}

	if containsIgnoreCase(errStr, "database is locked") || containsIgnoreCase(errStr, "SQLITE_BUSY") {
		return fmt.Sprintf("SQLite database at %s is locked by another process.\n"+
			"  Remediation:\n"+
			"  - Check for another running instance: ps aux | grep contentmind\n"+
			"  - Wait for any migrations to complete", absPath)
	}

	if containsIgnoreCase(errStr, "disk full") || containsIgnoreCase(errStr, "no space") || containsIgnoreCase(errStr, "SQLITE_FULL") {
		return fmt.Sprintf("Disk full - cannot write to SQLite database at %s.\n"+
			"  Remediation:\n"+
			"  - Check available disk space: df -h %s", absPath, parentDir)
	}

	if containsIgnoreCase(errStr, "corrupt") || containsIgnoreCase(errStr, "malformed") || containsIgnoreCase(errStr, "SQLITE_CORRUPT") {
		return fmt.Sprintf("SQLite database at %s appears to be corrupted.\n"+
			"  CRITICAL: Backup any existing data before proceeding!\n"+
			"  Remediation:\n"+
			"  - Check integrity: sqlite3 %s \"PRAGMA integrity_check;\"\n"+
			"  - Restore from backup if recovery fails", absPath, absPath)
	}

	if containsIgnoreCase(errStr, "read-only") {
		return fmt.Sprintf("SQLite database location is on a read-only file system: %s.\n"+
			"  Remediation:\n"+
			"  - Move the database to a writable location via persistence.dsn", absPath)
	}

	return fmt.Sprintf("Failed to initialize SQLite database at %s: %v\n"+
		"  Remediation:\n"+
		"  - Ensure the directory %s exists and is writable\n"+
		"  - Check disk space and permissions", absPath, err, parentDir)
}

// dsnHost extracts host:port from a URL-style DSN without exposing credentials.
func dsnHost(dsn string) string {
	if u, err := url.Parse(dsn); err == nil && u.Host != "" {
		return u.Host
	}
	for _, field := range strings.Fields(dsn) {
		if strings.HasPrefix(field, "host=") {
			return strings.TrimPrefix(field, "host=")
		}
	}
	return "persistence.dsn"
}

func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// printFatal writes the boxed startup failure banner.
func printFatal(w io.Writer, err error, remediation string) {
	const bar = "========================================"
	fmt.Fprintf(w, "\n%s\n", bar)
	fmt.Fprintf(w, "  FATAL: %v\n", err)
	fmt.Fprintf(w, "%s\n", bar)
	if remediation != "" {
		for _, line := range strings.Split(remediation, "\n") {
			fmt.Fprintf(w, "  %s\n", strings.TrimPrefix(line, "  "))
		}
		fmt.Fprintf(w, "%s\n", bar)
	}
	fmt.Fprintln(w)
}
