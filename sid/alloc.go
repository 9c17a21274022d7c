package sid

import (
	"encoding/binary"
	"net/netip"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/pkg/errors"
)

// RetryBudget is the number of collisions tolerated by one allocation
// before it gives up.
const RetryBudget = 100

// functionAddr ORs cursor into base at bit offset shift, counted from the
// least significant end of the address. The cursor is packed as two 32-bit
// words: the low part goes to word shift/32 and the spill to the next word
// up, so cursor bits above 64-shift%32 are dropped.
func functionAddr(base netip.Addr, cursor uint64, shift int) netip.Addr {
	a := base.As16()
	var tmp [4]uint32
	w, s := shift>>5, uint(shift&0x1f)
	tmp[w] = uint32(cursor << s)
	if w+1 < len(tmp) {
		tmp[w+1] = uint32(cursor >> (32 - s))
	}
	for i := 0; i < 4; i++ {
		word := binary.BigEndian.Uint32(a[i*4:])
		binary.BigEndian.PutUint32(a[i*4:], word|tmp[3-i])
	}
	return netip.AddrFrom16(a)
}

// Allocate registers a function under locator for owner. A zero requested
// prefix asks the allocator to pick the next free address; otherwise the
// requested prefix must be a function prefix of the locator.
//
// A non-zero requestKey already used by the same owner under the locator
// returns the existing function so retransmitted requests do not allocate
// twice.
func (r *Registry) Allocate(locator string, requested netip.Prefix, owner Owner, requestKey uint32) (Function, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	rec, err := r.locator(txn, locator)
	if err != nil {
		return Function{}, err
	}
	loc := rec.loc

	if requestKey != 0 {
		frs, err := r.requestRecords(txn, locator, requestKey)
		if err != nil {
			return Function{}, err
		}
		for _, fr := range frs {
			if fr.fn.Owner == owner {
				return fr.fn, nil
			}
		}
	}

	var prefix netip.Prefix
	if IsZeroPrefix(requested) {
		prefix, err = r.nextFree(txn, &loc)
		// the cursor moved even when nothing was found
		if ierr := txn.Insert(tableLocator, &locatorRecord{Name: loc.Name, loc: loc}); ierr != nil {
			return Function{}, ierr
		}
		if err != nil {
			txn.Commit()
			return Function{}, err
		}
	} else {
		if !loc.Contains(requested) {
			return Function{}, errors.Wrapf(ErrPrefixMismatch, "%s not a /%d inside %s",
				requested, loc.FunctionPrefixLen(), loc.Prefix)
		}
		if _, err := r.functionRecord(txn, locator, requested); err == nil {
			return Function{}, errors.Wrapf(ErrDuplicateFunction, "%s", requested)
		}
		prefix = requested
	}

	fn := Function{
		Locator:    locator,
		Prefix:     prefix,
		Owner:      owner,
		RequestKey: requestKey,
	}
	r.seq++
	fr := &functionRecord{
		Locator:    locator,
		Key:        prefixKey(prefix),
		RequestKey: requestKey,
		seq:        r.seq,
		fn:         fn,
	}
	if err := txn.Insert(tableFunction, fr); err != nil {
		return Function{}, err
	}
	txn.Commit()
	return fn, nil
}

// nextFree advances loc's cursor until it lands on an unused function
// address, wrapping to zero past 2^FunctionBits-1.
func (r *Registry) nextFree(txn *memdb.Txn, loc *Locator) (netip.Prefix, error) {
	plen := loc.FunctionPrefixLen()
	shift := 128 - plen
	mask := ^((uint64(1) << loc.FunctionBits) - 1)
	base := loc.Prefix.Addr()

	for attempt := 0; ; attempt++ {
		loc.Cursor++
		if loc.Cursor&mask != 0 {
			loc.Cursor = 0
		}
		candidate := netip.PrefixFrom(functionAddr(base, loc.Cursor, shift), plen)
		if attempt > RetryBudget {
			return netip.Prefix{}, errors.Wrapf(ErrExhausted, "%q after %d attempts", loc.Name, attempt)
		}
		obj, err := txn.First(tableFunction, indexID, loc.Name, prefixKey(candidate))
		if err != nil {
			return netip.Prefix{}, err
		}
		if obj == nil {
			return candidate, nil
		}
	}
}

// Release removes the function at prefix from locator.
func (r *Registry) Release(locator string, prefix netip.Prefix) (Function, error) {
	txn := r.db.Txn(true)
	defer txn.Abort()

	if _, err := r.locator(txn, locator); err != nil {
		return Function{}, err
	}
	fr, err := r.functionRecord(txn, locator, prefix)
	if err != nil {
		return Function{}, err
	}
	if err := txn.Delete(tableFunction, fr); err != nil {
		return Function{}, err
	}
	txn.Commit()
	return fr.fn, nil
}
