// Package packageset builds the concrete, validated, ordered package set
// for one installer: specs are resolved through an injected Resolver,
// explicit package lines are merged in, exclusions applied, and Finalize
// freezes the result under strict invariants (unique logical names,
// python first, one ordering mode per build).
package packageset
