// Package archive moves long-terminal jobs out of the primary tables.
package archive
