// Package textutil holds small string helpers shared by the transports.
package textutil
