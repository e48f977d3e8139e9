// Package journal keeps a local record of every device call the facade makes.
//
// Each HTTP request that reaches the device adapter (or fails validation
// before it) produces one Entry. Entries are written asynchronously by a
// Writer so a slow disk never delays a response, and they are never read
// back to answer a device request: the journal is an audit trail, not a
// cache.
//
// Storage is the command_log table created by the migrations package.
// Device keys are never stored.
package journal
