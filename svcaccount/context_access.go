package svcaccount

import "github.com/svctrust/core/lock"

// Mutex returns a lock.Mutex over this context's store/bucket/timeout for
// key, letting other packages (admin, drive) share the same mutex
// discipline as the rotation protocol without reimplementing it.
func (sc *ServiceContext) Mutex(key string) *lock.Mutex {
	return sc.mutex(key)
}

// AdminRosterCacheGet/Set/Clear expose just the admin-roster cache slot,
// since add_admin_user invalidates only that one slot rather than all
// five (see admin.AddAdminUser).
func (sc *ServiceContext) AdminRosterCacheGet(key string) (interface{}, bool) {
	return sc.adminUsersCache.Get(key)
}

func (sc *ServiceContext) AdminRosterCacheSet(key string, v interface{}) {
	sc.adminUsersCache.Set(key, v)
}

func (sc *ServiceContext) AdminRosterCacheClear() {
	sc.adminUsersCache.Clear()
}
