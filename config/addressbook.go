package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// dbOperation represents a function to be executed on the address book
type dbOperation func(*AddressBook)

// AddressBook persists which address each simulated blade listens on, so a
// blade keeps its address across restarts.
type AddressBook struct {
	BladeToIP map[string]string `yaml:"blade_to_ip"`
	path      string
	opChan    chan dbOperation // Serializes operations
	done      chan struct{}
}

// NewAddressBook opens the address book stored at dbPath
func NewAddressBook(dbPath string) (*AddressBook, error) {
	// Create database directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create address book directory: %w", err)
	}

	db := &AddressBook{
		BladeToIP: make(map[string]string),
		path:      dbPath,
		opChan:    make(chan dbOperation),
		done:      make(chan struct{}),
	}

	// Load existing entries if the file exists
	data, err := os.ReadFile(dbPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, db); err != nil {
			return nil, fmt.Errorf("failed to parse address book: %w", err)
		}
		if db.BladeToIP == nil {
			db.BladeToIP = make(map[string]string)
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("failed to read address book: %w", err)
	}

	go db.handleOperations()

	return db, nil
}

// save writes the address book to disk
func (db *AddressBook) save() error {
	data, err := yaml.Marshal(db)
	if err != nil {
		return err
	}
	return os.WriteFile(db.path, data, 0644)
}

// handleOperations processes operations sequentially
func (db *AddressBook) handleOperations() {
	for {
		select {
		case op := <-db.opChan:
			op(db)
		case <-db.done:
			return
		}
	}
}

// Close shuts down the operation handler
func (db *AddressBook) Close() {
	close(db.done)
}

// Assign records ip as the address of blade
func (db *AddressBook) Assign(blade, ip string) error {
	response := make(chan error)
	db.opChan <- func(db *AddressBook) {
		db.BladeToIP[blade] = ip
		response <- db.save()
	}
	return <-response
}

// Lookup returns the address assigned to blade
func (db *AddressBook) Lookup(blade string) (string, bool) {
	type result struct {
		ip     string
		exists bool
	}

	response := make(chan result)
	db.opChan <- func(db *AddressBook) {
		ip, exists := db.BladeToIP[blade]
		response <- result{ip, exists}
	}

	r := <-response
	return r.ip, r.exists
}

// Remove forgets blade
func (db *AddressBook) Remove(blade string) error {
	response := make(chan error)
	db.opChan <- func(db *AddressBook) {
		delete(db.BladeToIP, blade)
		response <- db.save()
	}
	return <-response
}

// Assigned returns the set of addresses in use
func (db *AddressBook) Assigned() map[string]bool {
	response := make(chan map[string]bool)
	db.opChan <- func(db *AddressBook) {
		ips := make(map[string]bool)
		for _, ip := range db.BladeToIP {
			ips[ip] = true
		}
		response <- ips
	}
	return <-response
}

// Prune removes entries for blades that no longer exist
func (db *AddressBook) Prune(existing map[string]bool) error {
	response := make(chan error)
	db.opChan <- func(db *AddressBook) {
		for blade := range db.BladeToIP {
			if !existing[blade] {
				delete(db.BladeToIP, blade)
			}
		}
		response <- db.save()
	}
	return <-response
}
