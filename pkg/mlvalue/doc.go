// Package mlvalue is the support library imported by code that mlbridge
// generates.
//
// A Value is a single machine word in the guest runtime's representation:
// an immediate integer when the low bit is set, a pointer to a tagged heap
// block otherwise. Immediates are encoded here in pure Go; everything that
// touches the guest heap goes through the installed Runtime:
//
//	restore := mlvalue.Install(rt)
//	defer restore()
//
// Generated marshalling code follows the runtime's root discipline: every
// local Value that must survive an allocation is registered with Roots and
// released by a deferred call, so release happens on normal return, on a
// contained host panic and while a guest exception unwinds.
//
// Two error domains exist at run time. A *FatalError means the guest handed
// the host a representation it cannot read (ABI skew) and is never
// recovered. A host panic inside an entry point is contained by Catch and
// reported to the guest as an *Exception via RaiseHostPanic.
package mlvalue
