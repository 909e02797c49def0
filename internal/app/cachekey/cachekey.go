// Package cachekey owns the cache key shapes and TTLs shared by the catalog
// service and the ingestion worker. Every commit path must forget the keys
// returned by Record for the product it touched.
package cachekey

import (
	"fmt"
	"time"
)

// Default TTLs
const (
	ListTTL   = 600 * time.Second
	ShowTTL   = 60 * time.Second
	RecordTTL = 10 * time.Minute
)

// TTLs groups the configurable entry lifetimes
type TTLs struct {
	List   time.Duration
	Show   time.Duration
	Record time.Duration
}

// DefaultTTLs returns the stock lifetimes
func DefaultTTLs() TTLs {
	return TTLs{List: ListTTL, Show: ShowTTL, Record: RecordTTL}
}

// List keys one page of a listing by its full query shape
func List(page int, search string, includeUser bool) string {
	return fmt.Sprintf("products_page_%d_%s_user_%t", page, search, includeUser)
}

// Product keys the bare record snapshot written on create and update
func Product(id string) string {
	return "product_" + id
}

// Show keys the record together with its loaded user
func Show(id string) string {
	return "product_show_" + id
}

// Record returns every single-item key held for a product
func Record(id string) []string {
	return []string{Product(id), Show(id)}
}
