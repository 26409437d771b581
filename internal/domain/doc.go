// Package domain defines the data types and contracts shared across the app:
// key statuses, license types, the error taxonomy, and the interfaces of the
// decryption engine, license transport and license store.
package domain
