// Package permission stores the custom permission grants of each mini-app.
//
// A mini-app owns an ordered set of records, one per permission kind, each
// ALLOWED, DENIED or NOT_YET_SET. User decisions arrive as Command values and
// are applied through Write; the reconciliation engine prunes records whose
// kind disappeared from the manifest so a revoked kind can never come back
// with its old grant.
package permission
