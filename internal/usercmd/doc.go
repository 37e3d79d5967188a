// Package usercmd drives the shadow-utils tools (groupadd, useradd,
// usermod, chage, userdel, getent) on target hosts and maps their exit
// statuses to typed results.
package usercmd
