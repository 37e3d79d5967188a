package usermgr

// Package usermgr parses account database entries as printed by getent(1)
// on a target host:
//   getent passwd <user>   name:x:uid:gid:gecos:home:shell
//   getent shadow <user>   name:hash:lastchg:min:max:warn:inactive:expire:
//   getent group <group>   name:x:gid:member,member
//
// It also holds the account and group naming rules applied to the roster.
