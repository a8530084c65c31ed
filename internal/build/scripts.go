package build

// DefaultCustomizeScript is run when no customize script is configured. It
// refreshes the package index and applies pending updates so captured images
// start current.
const DefaultCustomizeScript = `set -e
export DEBIAN_FRONTEND=noninteractive
apt-get update
apt-get -y upgrade
apt-get -y install qemu-guest-agent cloud-init
apt-get -y autoremove
apt-get clean
`

// DefaultGeneralizeScript strips machine identity so each VM created from
// the image looks freshly installed, then powers the machine off. The
// power-off must be the last statement; everything after it is unreachable.
const DefaultGeneralizeScript = `set -e
cloud-init clean --logs
truncate -s 0 /etc/machine-id
rm -f /var/lib/dbus/machine-id
ln -s /etc/machine-id /var/lib/dbus/machine-id
rm -f /etc/ssh/ssh_host_*
rm -rf /tmp/* /var/tmp/*
shutdown -P now
`
