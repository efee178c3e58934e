// Package models contains data structures used across handlers
package models

import "time"

// ObjectInfo represents an object with display metadata
type ObjectInfo struct {
	Key           string    `json:"key"`
	DisplayName   string    `json:"displayName"`
	Size          uint64    `json:"size"`
	FormattedSize string    `json:"formattedSize"`
	LastModified  time.Time `json:"lastModified"`
	ContentType   string    `json:"contentType"`
	IsImage       bool      `json:"isImage"`
	IsText        bool      `json:"isText"`
	IsVideo       bool      `json:"isVideo"`
	IsArchive     bool      `json:"isArchive"`
	IsPreviewable bool      `json:"isPreviewable"`
}

// FolderInfo represents a folder (common prefix)
type FolderInfo struct {
	Name   string `json:"name"`
	Prefix string `json:"prefix"`
}

// Breadcrumb for navigation
type Breadcrumb struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Listing is one folder view of the bucket.
type Listing struct {
	Bucket      string       `json:"bucket"`
	Path        string       `json:"path"`
	Breadcrumbs []Breadcrumb `json:"breadcrumbs"`
	Folders     []FolderInfo `json:"folders"`
	Objects     []ObjectInfo `json:"objects"`
	// Truncated is set when the bucket holds more entries than one page.
	Truncated bool `json:"truncated"`
}

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error      string `json:"error"`
	Category   string `json:"category"`
	Status     int    `json:"upstreamStatus,omitempty"`
	Code       string `json:"upstreamCode,omitempty"`
	ServerBody string `json:"upstreamBody,omitempty"`
}
