// Package sandbox models the region that managed objects live in.
//
// Objects never hold raw external pointers. Each external pointer field is a
// 4-byte handle slot inside the sandbox, and the slot's Address (its byte
// offset from the sandbox base) is what the collector hands to the table when
// marking. Sweep later rewrites evacuated slots through the same addresses.
//
// # Allocation
//
// Slots are handed out by a bump pointer, the same append-only scheme as an
// arena: AllocSlots never reuses space, and memory is committed in chunks as
// the pointer advances. Address 0 is never handed out so it can stand for "no
// slot".
//
// # Thread Safety
//
// AllocSlots serializes on an internal mutex. LoadHandle and StoreHandle are
// single 32-bit atomics and may be called from any goroutine.
package sandbox
